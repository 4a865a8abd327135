// paperctl steuert Import, Extraktion und Export der Paper-Metadaten von der Kommandozeile.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
