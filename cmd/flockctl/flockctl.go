// Program flockctl is a command-line utility for probing a running
// flock deployment over NATS.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/creachadair/command"
	"github.com/nats-io/nats.go"

	"github.com/flockbus/flock"
	flocknats "github.com/flockbus/flock/transport/nats"
)

func main() {
	root := &command.C{
		Name: filepath.Base(os.Args[0]),
		Help: "Utilities for probing a running flock deployment.",
		Commands: []*command.C{
			{
				Name:  "register",
				Usage: "<nats-url> <directory-endpoint> <self-id> <self-endpoint>",
				Help:  "Register this process as a peer against a directory endpoint and print the ack.",
				Run: func(env *command.Env) error {
					if len(env.Args) != 4 {
						return env.Usagef("Expected exactly 4 arguments")
					}
					return runRegister(env.Args[0], env.Args[1], env.Args[2], env.Args[3])
				},
			},
			{
				Name:  "send",
				Usage: "<nats-url> <target-endpoint> <message-type> <payload>",
				Help:  "Send a raw message to a peer's endpoint and print the reply.",
				Run: func(env *command.Env) error {
					if len(env.Args) != 4 {
						return env.Usagef("Expected exactly 4 arguments")
					}
					return runSend(env.Args[0], env.Args[1], env.Args[2], env.Args[3])
				},
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

func runRegister(url, directoryEndpoint, selfId, selfEndpoint string) error {
	nc, err := nats.Connect(url)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer nc.Close()

	sender := flocknats.New(nc)
	desc := flock.PeerDescriptor{
		Peer:       flock.Peer{PeerId: flock.PeerId(selfId), Endpoint: flock.Endpoint(selfEndpoint), IsUp: true, IsResponding: true},
		BusVersion: flock.BusVersion,
	}
	payload, err := (flock.EnvelopeCodec{}).EncodeRegister(desc)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := sender.Send(ctx, flock.Peer{Endpoint: flock.Endpoint(directoryEndpoint)}, flock.MessageTypeRegisterPeer, payload)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	peers, err := (flock.EnvelopeCodec{}).DecodeRegisterResponse(resp)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	fmt.Printf("registered %s; directory reports %d known peer(s):\n", selfId, len(peers))
	for _, p := range peers {
		fmt.Printf("  %s\n", p.Peer)
	}
	return nil
}

func runSend(url, targetEndpoint, msgType, payload string) error {
	nc, err := nats.Connect(url)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer nc.Close()

	sender := flocknats.New(nc)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := sender.Send(ctx, flock.Peer{Endpoint: flock.Endpoint(targetEndpoint)}, flock.MessageTypeId(msgType), []byte(payload))
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	fmt.Printf("reply: %s\n", resp)
	return nil
}
