package main

import (
	"fmt"
	"os"

	"walktrack/internal/shared/auth"
	"walktrack/internal/shared/config"

	flag "github.com/spf13/pflag"
)

func main() {
	userID := flag.String("user", "550e8400-e29b-41d4-a716-446655440000", "User ID (UUID)")
	email := flag.String("email", "walker@example.com", "Email address")
	role := flag.String("role", auth.RoleWalker, "Role (WALKER|OWNER|ADMIN)")
	session := flag.String("session", "walk-1", "walk session used in the example commands")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	token, err := auth.NewJWTService(cfg.JWT).GenerateToken(*userID, *email, *role)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating JWT token: %v\n", err)
		os.Exit(1)
	}

	port := cfg.Services.TrackingServicePort
	fmt.Printf("\nJWT Token generated successfully\n\n")
	fmt.Printf("User ID:   %s\n", *userID)
	fmt.Printf("Email:     %s\n", *email)
	fmt.Printf("Role:      %s\n", *role)
	fmt.Printf("\nToken:\n%s\n", token)
	fmt.Printf("\nAuthorization: Bearer %s\n", token)
	fmt.Printf("\nExample ping:\n")
	fmt.Printf("curl -X POST http://localhost:%d/api/v1/location/track \\\n", port)
	fmt.Printf("  -H 'Authorization: Bearer %s' \\\n", token)
	fmt.Printf("  -H 'X-Session-ID: %s' \\\n", *session)
	fmt.Printf("  -H 'Content-Type: application/json' \\\n")
	fmt.Printf("  -d '{\"latitude\": 40.7128, \"longitude\": -74.0060}'\n")
	fmt.Printf("\nViewer socket: ws://localhost:%d/ws/sessions/%s (first frame {\"token\":\"...\"})\n\n", port, *session)
}
