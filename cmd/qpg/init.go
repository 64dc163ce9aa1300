/*-------------------------------------------------------------------------
 *
 * QPG - Init and Config Commands
 *
 * Portions copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"qpg/internal/config"
	"qpg/internal/embedding"
	"qpg/internal/redact"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the local catalog and download the embedding model",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := config.EnsureDirs(config.GetPaths())
		if err != nil {
			return err
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		modelDir, err := embedding.EnsureModel(paths.ModelsDir, true)
		if err != nil {
			return err
		}

		fmt.Printf("Catalog ready: %s\n", paths.IndexDB)
		fmt.Printf("Model ready: %s\n", modelDir)
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show effective paths and LLM settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths := config.GetPaths()
		settings, err := config.ResolveOpenAI(config.Overrides{})
		if err != nil {
			return err
		}

		apiKey := "(not set)"
		if settings.APIKey != "" {
			apiKey = redact.Secret(settings.APIKey)
		}
		configFile := config.ConfigYAMLPath()
		if _, err := os.Stat(configFile); err != nil {
			configFile += " (missing)"
		}

		fmt.Printf("Catalog:      %s\n", paths.IndexDB)
		fmt.Printf("Models:       %s\n", paths.ModelsDir)
		fmt.Printf("Config file:  %s\n", configFile)
		fmt.Printf("LLM base URL: %s\n", settings.BaseURL)
		fmt.Printf("LLM model:    %s\n", settings.Model)
		fmt.Printf("LLM API key:  %s\n", apiKey)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(configCmd)
}
