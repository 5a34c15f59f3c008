package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/AniketPatel369/p2p/internal/identity"
)

const (
	identityKeyFile = "identity.key"
	identityPubFile = "identity.pub"
)

var (
	outputDir    string
	noPassphrase bool
	force        bool
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "generate":
		generateCmd(args)
	case "show":
		showCmd(args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("keygen - device identity management")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  keygen generate [flags]  - Generate a new device identity")
	fmt.Println("  keygen show [flags]      - Display the stored public key (no fingerprint)")
	fmt.Println()
	fmt.Println("Run 'keygen <command> -h' for command-specific help")
}

func defaultKeysDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share", "p2p", "keys")
}

func generateCmd(args []string) {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	fs.StringVar(&outputDir, "output-dir", defaultKeysDir(), "Key storage directory")
	fs.BoolVar(&noPassphrase, "no-passphrase", false, "Store the raw seed unencrypted")
	fs.BoolVar(&force, "force", false, "Overwrite an existing identity")
	fs.Parse(args)

	if err := os.MkdirAll(outputDir, 0o700); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output directory: %v\n", err)
		os.Exit(1)
	}

	keyPath := filepath.Join(outputDir, identityKeyFile)
	pubPath := filepath.Join(outputDir, identityPubFile)

	if !force {
		if _, err := os.Stat(keyPath); !os.IsNotExist(err) {
			fmt.Println("An identity already exists at this location.")
			fmt.Print("Overwrite? [y/N]: ")
			reader := bufio.NewReader(os.Stdin)
			response, _ := reader.ReadString('\n')
			if response != "y\n" && response != "Y\n" {
				fmt.Println("Aborted.")
				return
			}
		}
	}

	fmt.Println("Generating new device identity...")
	id, err := identity.Generate()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to generate identity: %v\n", err)
		os.Exit(1)
	}

	passphrase := readPassphrase()
	if passphrase == "" {
		if err := id.Save(keyPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to save identity: %v\n", err)
			os.Exit(1)
		}
	} else {
		if err := id.SaveEncrypted(keyPath, passphrase); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to save encrypted identity: %v\n", err)
			os.Exit(1)
		}
	}

	if err := os.WriteFile(pubPath, []byte(id.PublicKeyB64()+"\n"), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to save public key: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Identity generated.")
	fmt.Println()
	fmt.Printf("Public key:  %s\n", id.PublicKeyB64())
	fmt.Printf("Fingerprint: %s\n", id.Fingerprint())
	fmt.Printf("Stored in:   %s\n", outputDir)

	if passphrase == "" {
		fmt.Println()
		fmt.Println("WARNING: private key stored without passphrase encryption")
	}
}

// readPassphrase reads a passphrase from the controlling terminal with echo
// suppressed, falling back to a plain bufio read when stdin isn't a terminal
// (piped input, tests).
func readPassphrase() string {
	if noPassphrase {
		return ""
	}
	fmt.Print("Enter passphrase (leave empty for no encryption): ")
	passphrase := trimNewline(readLine())
	if passphrase == "" {
		return ""
	}

	fmt.Print("Confirm passphrase: ")
	confirm := trimNewline(readLine())
	if confirm != passphrase {
		fmt.Fprintln(os.Stderr, "Passphrases do not match.")
		os.Exit(1)
	}
	return passphrase
}

func readLine() string {
	if term.IsTerminal(int(syscall.Stdin)) {
		line, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read passphrase: %v\n", err)
			os.Exit(1)
		}
		return string(line)
	}
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	return line
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func showCmd(args []string) {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	fs.StringVar(&outputDir, "keys-dir", defaultKeysDir(), "Key storage directory")
	fs.Parse(args)

	pubPath := filepath.Join(outputDir, identityPubFile)
	pubKeyData, err := os.ReadFile(pubPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read public key: %v\n", err)
		fmt.Fprintln(os.Stderr, "Run 'keygen generate' first to create an identity")
		os.Exit(1)
	}
	pubKeyB64 := trimNewline(string(pubKeyData))

	fileInfo, _ := os.Stat(pubPath)
	var modTime string
	if fileInfo != nil {
		modTime = fileInfo.ModTime().Format(time.RFC3339)
	}

	fmt.Println("Device public key:")
	fmt.Printf("  %s\n", pubKeyB64)
	fmt.Println()
	fmt.Println("Key type: Ed25519")
	if modTime != "" {
		fmt.Printf("Created: %s\n", modTime)
	}
}
