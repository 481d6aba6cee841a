package server

import (
	"fmt"

	"maas-router/internal/config"
	"maas-router/internal/models"
)

func printStartupBanner(cfg config.Config, list []models.Model) {
	host := "127.0.0.1"
	port := cfg.Server.Port
	fmt.Println()
	fmt.Println("maas-router ready")
	fmt.Printf("Listening on http://%s:%d\n", host, port)
	fmt.Printf("Vertex AI project %s, location %s\n", cfg.Vertex.Project, cfg.Vertex.Location)
	fmt.Println("Endpoints:")
	fmt.Println("  GET  /health")
	fmt.Println("  GET  /v1/models")
	fmt.Println("  POST /v1/chat/completions")
	if cfg.Metrics.Enabled {
		fmt.Printf("  GET  %s\n", cfg.Metrics.Path)
	}
	fmt.Println("Models:")
	for _, m := range list {
		fmt.Printf("  %-34s %s\n", m.ID, m.Family)
	}
	if len(list) > 0 {
		fmt.Printf("Example:\n  curl http://%s:%d/v1/chat/completions -H 'Content-Type: application/json' -d '{\"model\":%q,\"messages\":[{\"role\":\"user\",\"content\":\"hello\"}]}'\n\n", host, port, list[0].ID)
	}
}
