package main

import (
	"log"

	"github.com/joho/godotenv"

	"poselink/internal/server"
)

func main() {
	if err := godotenv.Load(); err == nil {
		log.Println("📦 Loaded configuration from .env")
	}

	// The pose pipeline attaches here once it exists; nil drops frames.
	s := server.NewServer(nil)
	s.Run()
}
