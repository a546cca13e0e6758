package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"inspection/internal/app"
)

func main() {
	application, err := app.New()
	if err != nil {
		log.Fatalf("Failed to build inspection line: %v", err)
	}

	if err := application.Start(); err != nil {
		application.Shutdown()
		log.Fatalf("Failed to start inspection line: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	application.Shutdown()
}
