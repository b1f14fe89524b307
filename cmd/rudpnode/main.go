// rudpnode is a small daemon around the managed-connections stack: it
// bootstraps a node off a configured candidate list and relays messages
// between peers and stdout.
package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/paul1989889/rudp"
	"github.com/paul1989889/rudp/crypto"
	"github.com/paul1989889/rudp/transport"
)

var (
	configPath string
	logLevel   string
)

func main() {
	root := &cobra.Command{
		Use:   "rudpnode",
		Short: "Reliable-UDP node daemon",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "rudpnode.yaml", "path to the YAML config")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "logrus level (trace..panic)")

	root.AddCommand(keygenCommand(), runCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogging() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return nil
}

func keygenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a node key pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := crypto.GenerateKeyPair()
			if err != nil {
				return err
			}
			fmt.Printf("node_id:    %s\n", keys.NodeID())
			fmt.Printf("public_key: %s\n", hex.EncodeToString(keys.Public[:]))
			fmt.Printf("secret_key: %s\n", hex.EncodeToString(keys.Private[:]))
			return nil
		},
	}
}

func runCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Bootstrap and run the node",
		Long: "Bootstraps off the configured candidate list and keeps running until " +
			"interrupted. Lines of the form '<node_id> <text>' on stdin are sent to the " +
			"named peer, encrypted to its configured public key when encrypt is on.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := setupLogging(); err != nil {
				return err
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runNode(cfg)
		},
	}
}

// stdoutListener prints every event the manager delivers.
type stdoutListener struct{}

func (stdoutListener) MessageReceived(peerID crypto.NodeID, message []byte) {
	fmt.Printf("<%s> %s\n", peerID.ShortString(), string(message))
}

func (stdoutListener) ConnectionLost(peerID crypto.NodeID) {
	logrus.WithFields(logrus.Fields{
		"function": "ConnectionLost",
		"peer":     peerID.ShortString(),
	}).Warn("Peer connection lost")
}

func runNode(cfg *config) error {
	keys, err := cfg.keyPair()
	if err != nil {
		return err
	}
	candidates, err := cfg.bootstrapContacts()
	if err != nil {
		return err
	}
	contactKeys := make(map[crypto.NodeID][32]byte, len(candidates))
	for _, candidate := range candidates {
		contactKeys[candidate.ID] = candidate.PublicKey
	}

	opts := rudp.NewOptions()
	if cfg.MaxTransports > 0 {
		opts.MaxTransports = cfg.MaxTransports
	}
	opts.DisableEncryption = !cfg.Encrypt

	mc := rudp.NewManagedConnections(opts)
	defer mc.Close()

	localHint := transport.Endpoint{}
	if cfg.Listen != "" {
		if localHint, err = transport.ParseEndpoint(cfg.Listen); err != nil {
			return err
		}
	}

	own, chosen, err := mc.Bootstrap(candidates, stdoutListener{}, keys.NodeID(), keys, localHint)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"function": "runNode",
		"own":      own.String(),
		"chosen":   chosen.ID.ShortString(),
		"nat":      mc.NATType().String(),
	}).Info("Node is up")

	go readStdin(mc, keys, contactKeys, cfg.Encrypt)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logrus.Info("Shutting down")
	return nil
}

func readStdin(mc *rudp.ManagedConnections, keys *crypto.KeyPair,
	contactKeys map[crypto.NodeID][32]byte, encrypt bool,
) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.SplitN(scanner.Text(), " ", 2)
		if len(fields) != 2 {
			continue
		}
		peerID, err := crypto.NodeIDFromString(fields[0])
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "readStdin",
				"error":    err.Error(),
			}).Warn("Bad peer ID on stdin")
			continue
		}

		payload := []byte(fields[1])
		if encrypt {
			peerKey, ok := contactKeys[peerID]
			if !ok {
				logrus.WithFields(logrus.Fields{
					"function": "readStdin",
					"peer":     peerID.ShortString(),
				}).Warn("No public key on file for peer")
				continue
			}
			if payload, err = crypto.Encrypt(payload, peerKey); err != nil {
				continue
			}
		}

		mc.Send(peerID, payload, func(err error) {
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "readStdin",
					"peer":     peerID.ShortString(),
					"error":    err.Error(),
				}).Error("Send failed")
			}
		})
	}
}
