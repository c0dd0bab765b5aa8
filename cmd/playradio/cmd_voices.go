/*
Copyright (C) 2026 Dusan Mitrovic

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dusanmitrovic98/play-radio-tts/internal/db"
	"github.com/dusanmitrovic98/play-radio-tts/internal/tts"
	"github.com/dusanmitrovic98/play-radio-tts/internal/voices"
)

var voicesCmd = &cobra.Command{
	Use:   "voices",
	Short: "Manage the speech voice catalog",
}

var voicesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List voices the TTS engine offers",
	RunE:  runVoicesList,
}

var voicesSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Import the engine's voices into the local catalog",
	RunE:  runVoicesSync,
}

var (
	voicesSyncLocale string
	voicesListJSON   bool
)

func init() {
	rootCmd.AddCommand(voicesCmd)
	voicesCmd.AddCommand(voicesListCmd)
	voicesCmd.AddCommand(voicesSyncCmd)

	voicesListCmd.Flags().BoolVar(&voicesListJSON, "json", false, "Print the voice list as JSON")
	voicesSyncCmd.Flags().StringVar(&voicesSyncLocale, "locale", "", "Only import voices with this locale prefix (e.g. en)")
}

func runVoicesList(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	synth := tts.NewEdgeTTS(cfg.TTSBin, cfg.TTSTimeout, logger)
	list, err := synth.ListVoices(context.Background())
	if err != nil {
		return fmt.Errorf("list voices: %w", err)
	}

	if voicesListJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ALIAS\tSHORT NAME\tLOCALE\tGENDER")
	for _, v := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", tts.Alias(v.ShortName), v.ShortName, v.Locale, v.Gender)
	}
	return w.Flush()
}

func runVoicesSync(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	synth := tts.NewEdgeTTS(cfg.TTSBin, cfg.TTSTimeout, logger)
	list, err := synth.ListVoices(context.Background())
	if err != nil {
		return fmt.Errorf("list voices: %w", err)
	}

	database, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close(database)
	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	catalog := make([]voices.Voice, 0, len(list))
	for _, v := range list {
		if voicesSyncLocale != "" && !strings.HasPrefix(v.Locale, voicesSyncLocale) {
			continue
		}
		catalog = append(catalog, voices.Voice{
			Name:      tts.Alias(v.ShortName),
			ShortName: v.ShortName,
			Locale:    v.Locale,
			Gender:    v.Gender,
		})
	}

	store := voices.NewStore(database, cfg.DefaultVoice, nil, logger)
	n, err := store.Import(context.Background(), catalog)
	if err != nil {
		return fmt.Errorf("import voices: %w", err)
	}

	fmt.Printf("imported %d voices\n", n)
	return nil
}
