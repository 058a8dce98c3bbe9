package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"pulse-feed-core/internal/bootstrap"
	"pulse-feed-core/internal/config"
	"pulse-feed-core/internal/server"
	"pulse-feed-core/internal/tracer"
)

func main() {
	// 0. Initialize Tracer
	shutdownTracer := tracer.InitTracer()
	defer shutdownTracer(context.Background())

	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Panicf("Unable to load configuration: %v", err)
	}

	// 2. Bootstrap Dependencies (Container)
	container := bootstrap.NewContainer(cfg, warmAsset)

	// 3. Install session credential if provided (normally pushed by the
	// auth collaborator at runtime)
	if token := os.Getenv("SESSION_TOKEN"); token != "" {
		if err := container.Session.SetToken(token); err != nil {
			log.Printf("[WARN] Ignoring invalid SESSION_TOKEN: %v", err)
		}
	}

	// 4. Start Background Services
	ctx := context.Background()
	go func() {
		log.Println("Background: Starting Event Router...")
		if err := container.Router.Consume(ctx); err != nil {
			log.Printf("Background Router Error: %v", err)
		}
	}()
	go container.Channel.Watch(ctx)
	if err := container.Channel.Connect(ctx); err != nil {
		log.Printf("[WARN] Initial channel connect failed: %v", err)
	}

	// 5. Initialize Server
	srv := server.New(cfg, container)

	// 6. Run Server
	log.Fatal(srv.Run())
}

// warmAsset warms one media asset by requesting its head. The real player
// cache takes over from there.
func warmAsset(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}
