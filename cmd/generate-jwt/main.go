package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"aa-backend/internal/config"
	"aa-backend/internal/handlers"
)

func main() {
	serviceName := flag.String("service", "test-client", "service name claim")
	role := flag.String("role", "service", "role claim: service or admin")
	hours := flag.Int("hours", 0, "token lifetime in hours (0 = config default)")
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if err := config.LoadConfig(*configPath); err != nil {
		// the signing secret falls back to the dev default without config
		log.Printf("⚠️ config not loaded (%v), using dev secret", err)
	}

	tokenString, err := handlers.GenerateJWTToken(*serviceName, *role, time.Duration(*hours)*time.Hour)
	if err != nil {
		log.Fatalf("Error generating token: %v", err)
	}

	fmt.Println("============================================================")
	fmt.Println("Service JWT Token")
	fmt.Println("============================================================")
	fmt.Println()
	fmt.Println("Token:")
	fmt.Println(tokenString)
	fmt.Println()
	fmt.Println("Claims:")
	fmt.Printf("  Service: %s\n", *serviceName)
	fmt.Printf("  Role:    %s\n", *role)
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println()
	fmt.Printf("curl -H 'Authorization: Bearer %s' http://localhost:8080/api/v1/auth/verify\n", tokenString)
	fmt.Println()
}
