// ABOUTME: Interactive config file generator for querynox init
// ABOUTME: Prompts for addresses, database path, provider keys and writes YAML

package main

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// providerPrompts are the providers referenced by the built-in catalog,
// with their OpenAI-compatible endpoints.
var providerPrompts = []struct {
	name    string
	baseURL string
	envVar  string
}{
	{"openai", "https://api.openai.com/v1", "OPENAI_API_KEY"},
	{"anthropic", "https://api.anthropic.com/v1", "ANTHROPIC_API_KEY"},
	{"groq", "https://api.groq.com/openai/v1", "GROQ_API_KEY"},
	{"gemini", "https://generativelanguage.googleapis.com/v1beta/openai", "GEMINI_API_KEY"},
}

func runInit(in io.Reader, configPath string) error {
	reader := bufio.NewReader(in)

	fmt.Println("querynox configuration setup")
	fmt.Println("============================")
	fmt.Println()

	defaultDbPath := filepath.Join(getDataPath(), "querynox.db")

	outputFile := prompt(reader, "Config file path", configPath)

	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")
	grpcAddr := prompt(reader, "gRPC health address", "localhost:50051")

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	fmt.Println("\n--- Authentication ---")
	var jwtSecret string
	if yes(prompt(reader, "Require bearer tokens?", "yes")) {
		secretBytes := make([]byte, 32)
		if _, err := rand.Read(secretBytes); err != nil {
			return fmt.Errorf("generating JWT secret: %w", err)
		}
		jwtSecret = base64.StdEncoding.EncodeToString(secretBytes)
	}

	fmt.Println("\n--- Providers ---")
	fmt.Println("API keys are read from environment variables at startup.")
	var providers []int
	for i, p := range providerPrompts {
		if yes(prompt(reader, fmt.Sprintf("Configure %s (key from $%s)?", p.name, p.envVar), "yes")) {
			providers = append(providers, i)
		}
	}

	fmt.Println("\n--- Web Search ---")
	searchEnabled := yes(prompt(reader, "Enable web search (key from $SEARCH_API_KEY)?", "no"))

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# querynox configuration\n")
	cfg.WriteString("# Generated by querynox init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n", httpAddr))
	if grpcAddr != "" {
		cfg.WriteString(fmt.Sprintf("  grpc_addr: %q\n", grpcAddr))
	}
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: %q\n", dbPath))
	cfg.WriteString("\n")

	if jwtSecret != "" {
		cfg.WriteString("auth:\n")
		cfg.WriteString(fmt.Sprintf("  jwt_secret: %q\n", jwtSecret))
		cfg.WriteString("\n")
	}

	if len(providers) > 0 {
		cfg.WriteString("providers:\n")
		for _, i := range providers {
			p := providerPrompts[i]
			cfg.WriteString(fmt.Sprintf("  %s:\n", p.name))
			cfg.WriteString(fmt.Sprintf("    base_url: %q\n", p.baseURL))
			cfg.WriteString(fmt.Sprintf("    api_key: \"${%s}\"\n", p.envVar))
			cfg.WriteString("    timeout: \"60s\"\n")
		}
		cfg.WriteString("\n")
	}

	if searchEnabled {
		cfg.WriteString("search:\n")
		cfg.WriteString("  api_key: \"${SEARCH_API_KEY}\"\n")
		cfg.WriteString("  timeout: \"15s\"\n")
		cfg.WriteString("\n")
	}

	cfg.WriteString("generation:\n")
	cfg.WriteString("  timeout: \"2m\"\n")
	cfg.WriteString("  save_timeout: \"5s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", logFormat))
	cfg.WriteString("\n")

	cfg.WriteString("metrics:\n")
	cfg.WriteString("  enabled: false\n")
	cfg.WriteString("  path: \"/metrics\"\n")

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// 0600 since the file may carry the JWT secret
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the server:")
	fmt.Println("  querynox serve")
	if jwtSecret != "" {
		fmt.Println("\nTo mint a token:")
		fmt.Println("  querynox token <user-id>")
	}

	return nil
}

func yes(answer string) bool {
	a := strings.ToLower(answer)
	return a == "yes" || a == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
