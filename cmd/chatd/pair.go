package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/ofbraga/chatd/internal/bus"
	"github.com/ofbraga/chatd/internal/home"
	"github.com/ofbraga/chatd/internal/lock"
	"github.com/ofbraga/chatd/internal/logging"
	"github.com/ofbraga/chatd/internal/wa"
)

// runPair drives the interactive QR pairing flow in the terminal.
func runPair(profile string) error {
	if err := home.EnsureDir(profile); err != nil {
		return err
	}
	lk, err := lock.Acquire(home.Dir(profile))
	if err != nil {
		return err
	}
	defer func() { _ = lk.Release() }()

	logger, err := logging.New(home.LogPath(profile), profile)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	adapter, err := wa.NewAdapter(context.Background(), profile, bus.New(), logger)
	if err != nil {
		return err
	}
	if adapter.IsLoggedIn() {
		fmt.Println("already paired; start the daemon with chatd --profile", profile)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	events, err := adapter.StartQRAuth(ctx)
	if err != nil {
		return err
	}
	defer adapter.Disconnect()

	for evt := range events {
		switch evt.Type {
		case wa.AuthEventQRCode:
			fmt.Println("\nScan this QR code with the app on your phone:")
			fmt.Println(renderQR(evt.QRCode))
		case wa.AuthEventAuthenticated:
			fmt.Println("paired successfully")
			return nil
		case wa.AuthEventTimeout:
			return fmt.Errorf("pairing timed out")
		case wa.AuthEventAuthFailed:
			return fmt.Errorf("pairing failed: %s", evt.Message)
		}
	}
	return fmt.Errorf("pairing aborted")
}

// renderQR converts a string to a compact ASCII QR code using Unicode
// half-block characters.
func renderQR(content string) string {
	qr, err := qrcode.New(content, qrcode.Low)
	if err != nil {
		return "  (QR generation failed: " + err.Error() + ")"
	}
	qr.DisableBorder = false

	bitmap := qr.Bitmap()
	rows := len(bitmap)
	cols := 0
	if rows > 0 {
		cols = len(bitmap[0])
	}

	var sb strings.Builder

	for y := 0; y < rows; y += 2 {
		sb.WriteString("  ")
		for x := 0; x < cols; x++ {
			top := bitmap[y][x]
			bot := false
			if y+1 < rows {
				bot = bitmap[y+1][x]
			}
			switch {
			case top && bot:
				sb.WriteRune('█') // █
			case top && !bot:
				sb.WriteRune('▀') // ▀
			case !top && bot:
				sb.WriteRune('▄') // ▄
			default:
				sb.WriteRune(' ')
			}
		}
		sb.WriteRune('\n')
	}

	return sb.String()
}
