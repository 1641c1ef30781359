package main

import (
	"flag"
	"log"

	"shopflow/internal/app"
	"shopflow/internal/config"
)

// @title                       Shopflow Identity API
// @version                     1.0
// @description                 Регистрация, вход, refresh-ротация, подтверждение email и сброс пароля.
// @BasePath                    /api/v1
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
func main() {
	configPath := flag.String("config", config.DefaultPath, "path to config.yaml")
	flag.Parse()

	if err := app.Run(*configPath); err != nil {
		log.Fatal(err)
	}
}
