package models

import (
	"fmt"
	"sort"
	"time"

	"gorm.io/datatypes"
)

// Credential bündelt die API-Zugangsdaten eines Plattform-Kontos mit seinem Token-Kontingent.
type Credential struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Platform string `json:"platform" gorm:"size:256;not null"`
	Model    string `json:"model" gorm:"size:256;not null"`

	// z.B. {"DASHSCOPE_API_KEY": "sk-..."}
	SecretMaterial datatypes.JSONMap `json:"-" gorm:"column:secret_material;not null"`

	// Kann durch Abbuchung negativ werden.
	RemainingQuota int64  `json:"remaining_quota" gorm:"index;default:0"`
	Owner          string `json:"owner" gorm:"size:256"`
}

// TableName gibt explizit den Tabellennamen an.
func (Credential) TableName() string {
	return "t_certificate"
}

// Secrets liefert das Geheimmaterial als String-Map.
func (c *Credential) Secrets() map[string]string {
	out := make(map[string]string, len(c.SecretMaterial))
	for k, v := range c.SecretMaterial {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out
}

// SecretKeys liefert die Namen der hinterlegten Geheimnisse, sortiert.
func (c *Credential) SecretKeys() []string {
	keys := make([]string, 0, len(c.SecretMaterial))
	for k := range c.SecretMaterial {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
