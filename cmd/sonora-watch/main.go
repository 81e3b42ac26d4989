package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/sonoralabs/sonora-core/internal/protocol"
)

var version = "0.1.0-dev"

// sonora-watch tails the dictation subjects on the bus and prints one
// line per event. It is a development tool for watching the pipeline
// and its profiling output next to a running daemon.
func main() {
	var (
		servers     string
		subjects    string
		showVersion bool
	)

	flag.StringVar(&servers, "servers", "nats://localhost:4222", "Comma-separated NATS server URLs")
	flag.StringVar(&subjects, "subjects", "dictation.>", "Comma-separated subjects to subscribe to")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	conn, err := nats.Connect(servers, nats.Name("sonora-watch"), nats.Timeout(2*time.Second))
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to %s: %v\n", servers, err)
		os.Exit(1)
	}
	defer conn.Close()

	for _, subject := range strings.Split(subjects, ",") {
		subject = strings.TrimSpace(subject)
		if subject == "" {
			continue
		}
		if _, err := conn.Subscribe(subject, handleMessage); err != nil {
			fmt.Fprintf(os.Stderr, "subscribe %s: %v\n", subject, err)
			os.Exit(1)
		}
	}

	fmt.Printf("watching %s on %s\n", subjects, servers)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
}

func handleMessage(msg *nats.Msg) {
	stamp := time.Now().Format("15:04:05.000")
	switch msg.Subject {
	case protocol.SubjectState:
		var evt protocol.StateChange
		if json.Unmarshal(msg.Data, &evt) == nil {
			fmt.Printf("%s state      %s (%s)\n", stamp, evt.State, evt.Mode)
			return
		}
	case protocol.SubjectTranscript:
		var evt protocol.Transcript
		if json.Unmarshal(msg.Data, &evt) == nil {
			fmt.Printf("%s transcript #%d %q engine=%s model=%s inference=%dms\n",
				stamp, evt.Sequence, evt.Text, evt.Engine, evt.Model, evt.InferenceMS)
			return
		}
	case protocol.SubjectInsertion:
		var evt protocol.Insertion
		if json.Unmarshal(msg.Data, &evt) == nil {
			fmt.Printf("%s insertion  %s %q\n", stamp, evt.Status, evt.Text)
			return
		}
	case protocol.SubjectProfiling:
		var evt protocol.ChunkProfile
		if json.Unmarshal(msg.Data, &evt) == nil {
			fmt.Printf("%s profile    #%d samples=%d capture=%dms resample=%dms vad=%dms queue=%dms inference=%dms emit=%dms\n",
				stamp, evt.Sequence, evt.Samples, evt.CaptureMS, evt.ResampleMS,
				evt.VadMS, evt.QueueMS, evt.InferenceMS, evt.EmitMS)
			return
		}
	case protocol.SubjectMicLevel:
		// High-frequency; keep the output terse.
		var evt protocol.MicLevel
		if json.Unmarshal(msg.Data, &evt) == nil {
			fmt.Printf("%s mic        level=%.3f peak=%.3f active=%t\n", stamp, evt.Level, evt.Peak, evt.Active)
			return
		}
	}
	fmt.Printf("%s %s %s\n", stamp, msg.Subject, string(msg.Data))
}
