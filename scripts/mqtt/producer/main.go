// MQTT Test Producer - publishes line protocol to an MQTT broker
//
// Usage:
//   go run ./scripts/mqtt/producer [flags]
//
// Examples:
//   go run ./scripts/mqtt/producer -broker tcp://localhost:1883 -topic lp/sensors -count 100
//   go run ./scripts/mqtt/producer -rate 1000 -batch 50 -duration 60s
//   go run ./scripts/mqtt/producer -split 3      # every batch spread over 3 messages
//   go run ./scripts/mqtt/producer -compress     # gzip every message

package main

import (
	"bytes"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/klauspost/compress/gzip"

	"github.com/basekick-labs/lpstream/pkg/lineprotocol"
	"github.com/basekick-labs/lpstream/pkg/models"
)

var (
	broker   = flag.String("broker", "tcp://localhost:1883", "MQTT broker URL")
	clientID = flag.String("client", "lpstream-test-producer", "MQTT client ID")
	topic    = flag.String("topic", "lp/sensors", "Topic to publish to")
	qos      = flag.Int("qos", 1, "QoS level (0, 1, or 2)")
	count    = flag.Int("count", 0, "Number of batches to send (0 = unlimited)")
	rate     = flag.Int("rate", 10, "Batches per second")
	duration = flag.Duration("duration", 0, "Duration to run (0 = until count or Ctrl+C)")
	batch    = flag.Int("batch", 1, "Number of lines per batch")
	split    = flag.Int("split", 1, "Spread each batch over this many messages, cutting lines at random")
	compress = flag.Bool("compress", false, "gzip every message")
	username = flag.String("username", "", "MQTT username")
	password = flag.String("password", "", "MQTT password")
	verbose  = flag.Bool("verbose", false, "Verbose output")
)

func main() {
	flag.Parse()

	if *rate <= 0 || *batch <= 0 || *split <= 0 {
		fmt.Fprintln(os.Stderr, "-rate, -batch and -split must be positive")
		os.Exit(1)
	}
	if *compress && *split > 1 {
		fmt.Fprintln(os.Stderr, "-compress cannot be combined with -split")
		os.Exit(1)
	}

	fmt.Printf("MQTT Line Protocol Producer\n")
	fmt.Printf("===========================\n")
	fmt.Printf("Broker:   %s\n", *broker)
	fmt.Printf("Topic:    %s\n", *topic)
	fmt.Printf("Rate:     %d batch/s\n", *rate)
	fmt.Printf("Batch:    %d lines\n", *batch)
	fmt.Printf("Split:    %d messages/batch\n", *split)
	if *count > 0 {
		fmt.Printf("Count:    %d batches\n", *count)
	}
	if *duration > 0 {
		fmt.Printf("Duration: %s\n", *duration)
	}
	fmt.Println()

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(*broker)
	opts.SetClientID(*clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(10 * time.Second)

	if *username != "" {
		opts.SetUsername(*username)
		opts.SetPassword(*password)
	}

	opts.SetOnConnectHandler(func(c pahomqtt.Client) {
		fmt.Println("Connected to broker")
	})

	opts.SetConnectionLostHandler(func(c pahomqtt.Client, err error) {
		fmt.Printf("Connection lost: %v\n", err)
	})

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		fmt.Fprintf(os.Stderr, "Connection timeout\n")
		os.Exit(1)
	}
	if err := token.Error(); err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(1)
	}

	defer client.Disconnect(1000)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var sent, failed, lines int64
	startTime := time.Now()

	ticker := time.NewTicker(time.Second / time.Duration(*rate))
	defer ticker.Stop()

	var durationTimer <-chan time.Time
	if *duration > 0 {
		durationTimer = time.After(*duration)
	}

	fmt.Println("Sending messages... (Ctrl+C to stop)")

	batchNum := 0
	running := true

	for running {
		select {
		case <-sigCh:
			fmt.Println("\nReceived shutdown signal")
			running = false

		case <-durationTimer:
			fmt.Println("\nDuration reached")
			running = false

		case <-ticker.C:
			payload, err := buildBatch(*batch)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Encode error: %v\n", err)
				atomic.AddInt64(&failed, 1)
				continue
			}

			if *compress {
				if payload, err = gzipPayload(payload); err != nil {
					fmt.Fprintf(os.Stderr, "Compress error: %v\n", err)
					atomic.AddInt64(&failed, 1)
					continue
				}
			}

			// Messages of one topic must arrive in order for a split line
			// to be reassembled, so each part is awaited before the next.
			for i, part := range splitPayload(payload, *split) {
				token := client.Publish(*topic, byte(*qos), false, part)
				if token.WaitTimeout(5*time.Second) && token.Error() == nil {
					atomic.AddInt64(&sent, 1)
					if *verbose {
						fmt.Printf("Sent batch %d part %d (%d bytes)\n", batchNum+1, i+1, len(part))
					}
				} else {
					atomic.AddInt64(&failed, 1)
					if *verbose {
						fmt.Printf("Failed to send batch %d part %d: %v\n", batchNum+1, i+1, token.Error())
					}
				}
			}
			atomic.AddInt64(&lines, int64(*batch))

			batchNum++
			if *count > 0 && batchNum >= *count {
				fmt.Println("\nBatch count reached")
				running = false
			}
		}
	}

	elapsed := time.Since(startTime)
	totalSent := atomic.LoadInt64(&sent)
	totalFailed := atomic.LoadInt64(&failed)
	totalLines := atomic.LoadInt64(&lines)

	fmt.Printf("\n")
	fmt.Printf("Summary\n")
	fmt.Printf("=======\n")
	fmt.Printf("Duration:        %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("Messages sent:   %d\n", totalSent)
	fmt.Printf("Messages failed: %d\n", totalFailed)
	fmt.Printf("Lines sent:      %d\n", totalLines)
	fmt.Printf("Throughput:      %.1f msg/s\n", float64(totalSent)/elapsed.Seconds())
	fmt.Printf("Throughput:      %.1f lines/s\n", float64(totalLines)/elapsed.Seconds())
}

var (
	locations = []string{"warehouse a", "warehouse-b", "office,1", "office=2", "lab", "datacenter"}
	sensorIDs = []string{"temp-001", "temp-002", "temp-003", "hum-001", "hum-002", "combo-001"}
)

// buildBatch encodes n random sensor readings. Some locations need
// escaping so the consumer's unescaping is exercised too.
func buildBatch(n int) ([]byte, error) {
	var buf []byte
	var err error
	for i := 0; i < n; i++ {
		rec := &models.Record{Series: "sensors"}
		rec.SetTag("location", locations[rand.Intn(len(locations))])
		rec.SetTag("sensor_id", sensorIDs[rand.Intn(len(sensorIDs))])
		rec.SetField("temperature", models.FloatValue(20.0+rand.Float64()*15.0))
		rec.SetField("humidity", models.FloatValue(40.0+rand.Float64()*40.0))
		rec.SetField("ok", models.BoolValue(rand.Intn(10) > 0))
		rec.SetField("note", models.StringValue(`said "hi"`))
		rec.SetTimestamp(time.Now().UnixNano())

		if buf, err = lineprotocol.AppendRecord(buf, rec, lineprotocol.EscapeStrict); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// splitPayload cuts payload into parts at random offsets.
func splitPayload(payload []byte, parts int) [][]byte {
	if parts <= 1 || len(payload) < parts {
		return [][]byte{payload}
	}
	out := make([][]byte, 0, parts)
	for parts > 1 {
		cut := 1 + rand.Intn(len(payload)-parts+1)
		out = append(out, payload[:cut])
		payload = payload[cut:]
		parts--
	}
	return append(out, payload)
}

func gzipPayload(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(payload); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
