package main

import (
	_ "github.com/eleven-am/medverify/docs"
	"github.com/eleven-am/medverify/internal/bootstrap"
)

// @title MedVerify API
// @version 1.0.0
// @description Medication verification against a pharmacy inventory

// @BasePath /v1

func main() {
	bootstrap.Run()
}
