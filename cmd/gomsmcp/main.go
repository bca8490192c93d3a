package main

import (
	"fmt"
	"os"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		if err := runServe(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "doctor":
		if err := runDoctor(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "--help", "-h", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("gomsmcp — SQL Server MCP gateway")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  gomsmcp serve       Start the MCP server (stdio, or HTTP when HTTP_PORT is set)")
	fmt.Println("  gomsmcp doctor      Check configuration and database connectivity")
	fmt.Println("  gomsmcp --help      Show this help message")
	fmt.Println()
	fmt.Println("Configuration is read from the environment: SERVER_NAME, DATABASE_NAME,")
	fmt.Println("SQL_USERNAME, SQL_PASSWORD (omit both for Entra ID authentication),")
	fmt.Println("TRUST_SERVER_CERTIFICATE, CONNECTION_TIMEOUT, QUERY_TIMEOUT, READONLY.")
}
