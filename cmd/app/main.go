package main

import (
	"github.com/sirupsen/logrus"

	"tinytv-converter/internal/bootstrap"
)

func main() {
	app, err := bootstrap.New()
	if err != nil {
		logrus.WithError(err).Fatal("bootstrap app")
	}

	if err := app.Run(); err != nil {
		logrus.WithError(err).Fatal("run app")
	}
}
