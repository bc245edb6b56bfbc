package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

func main() {
	if err := newRootCmd(afero.NewOsFs()).Execute(); err != nil {
		log.WithError(err).Error("migration command failed")
		os.Exit(1)
	}
}
