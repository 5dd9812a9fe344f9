// Copyright 2024-2026 Aiku AI

package connector

import (
	"encoding/base64"
	"html/template"
	"net/http"
	"time"

	"go.mau.fi/util/exhttp"
)

const qrImageSize = 300

// AdminHandler returns the control API: health, pairing QR, restart and
// metrics.
func (sc *StickerConnector) AdminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", sc.HandleIndex)
	mux.HandleFunc("GET /health", sc.HandleHealth)
	mux.HandleFunc("GET /qr", sc.HandleQR)
	mux.HandleFunc("GET /qr/image", sc.HandleQRImage)
	mux.HandleFunc("POST /restart", sc.HandleRestart)
	mux.HandleFunc("GET /config", sc.HandleConfig)
	mux.Handle("GET /metrics", sc.metrics.Handler())
	mux.HandleFunc("/", sc.handleNotFound)
	return mux
}

type indexResponse struct {
	Name      string            `json:"name"`
	Status    string            `json:"status"`
	Endpoints map[string]string `json:"endpoints"`
	Timestamp time.Time         `json:"timestamp"`
}

func (sc *StickerConnector) HandleIndex(w http.ResponseWriter, r *http.Request) {
	exhttp.WriteJSONResponse(w, http.StatusOK, &indexResponse{
		Name:   "WhatsApp Sticker Bot",
		Status: "running",
		Endpoints: map[string]string{
			"health":   "GET /health",
			"qr":       "GET /qr",
			"qr_image": "GET /qr/image",
			"restart":  "POST /restart",
			"config":   "GET /config",
			"metrics":  "GET /metrics",
		},
		Timestamp: time.Now(),
	})
}

type healthResponse struct {
	Status        string    `json:"status"`
	Bot           string    `json:"bot"`
	Reason        string    `json:"reason,omitempty"`
	LoggedOut     bool      `json:"logged_out,omitempty"`
	StateSince    time.Time `json:"state_since"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	Timestamp     time.Time `json:"timestamp"`
}

func (sc *StickerConnector) HandleHealth(w http.ResponseWriter, r *http.Request) {
	snap := sc.state.load()
	exhttp.WriteJSONResponse(w, http.StatusOK, &healthResponse{
		Status:        "ok",
		Bot:           snap.State.String(),
		Reason:        string(snap.Reason),
		LoggedOut:     snap.IsFinal(),
		StateSince:    snap.Since,
		UptimeSeconds: sc.Uptime().Seconds(),
		Timestamp:     time.Now(),
	})
}

type qrResponse struct {
	QR        string    `json:"qr,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func (sc *StickerConnector) HandleQR(w http.ResponseWriter, r *http.Request) {
	snap := sc.state.load()
	resp := &qrResponse{Timestamp: time.Now()}
	switch {
	case snap.State == StateAwaitingScan && snap.ScanCode != "":
		resp.QR = snap.ScanCode
		resp.Message = "Scan this QR code with WhatsApp"
	case snap.State == StateConnected:
		resp.Message = "Bot is already connected"
	case snap.IsFinal():
		resp.Message = "Logged out, POST /restart to pair again"
	default:
		resp.Message = "QR code not available yet, bot is initializing"
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, resp)
}

var qrPageTemplate = template.Must(template.New("qr").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="{{.Refresh}}">
<title>WhatsApp Sticker Bot</title>
<style>body{font-family:sans-serif;text-align:center;padding:2em}img{border:1px solid #ccc}</style>
</head>
<body>
<h1>WhatsApp Sticker Bot</h1>
{{if .Image}}<p>Open WhatsApp, go to Settings &gt; Linked Devices &gt; Link a Device and scan:</p>
<img src="{{.Image}}" width="{{.Size}}" height="{{.Size}}" alt="QR code">
{{else}}<p>{{.Message}}</p>{{end}}
<p><small>This page refreshes every {{.Refresh}} seconds.</small></p>
</body>
</html>
`))

type qrPage struct {
	Image   template.URL
	Message string
	Size    int
	Refresh int
}

func (sc *StickerConnector) HandleQRImage(w http.ResponseWriter, r *http.Request) {
	page := &qrPage{Size: qrImageSize, Refresh: 10}
	snap := sc.state.load()
	switch {
	case snap.State == StateAwaitingScan && snap.ScanCode != "":
		png, err := scanCodePNG(snap.ScanCode, qrImageSize)
		if err != nil {
			sc.log.Error().Err(err).Msg("Failed to render QR image")
			http.Error(w, "failed to render QR code", http.StatusInternalServerError)
			return
		}
		page.Image = template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(png))
	case snap.State == StateConnected:
		page.Message = "✅ Bot is connected."
		page.Refresh = 30
	case snap.IsFinal():
		page.Message = "Logged out. Send POST /restart to pair again."
	default:
		page.Message = "⏳ Waiting for a QR code..."
		page.Refresh = 3
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := qrPageTemplate.Execute(w, page); err != nil {
		sc.log.Warn().Err(err).Msg("Failed to write QR page")
	}
}

type restartResponse struct {
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (sc *StickerConnector) HandleRestart(w http.ResponseWriter, r *http.Request) {
	sc.log.Info().Str("remote_addr", r.RemoteAddr).Msg("Restart requested")
	if err := sc.Restart(r.Context()); err != nil {
		sc.log.Error().Err(err).Msg("Restart failed")
		exhttp.WriteJSONResponse(w, http.StatusInternalServerError, &restartResponse{
			Error:     "Failed to restart bot",
			Details:   err.Error(),
			Timestamp: time.Now(),
		})
		return
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, &restartResponse{
		Message:   "Bot restarted",
		Timestamp: time.Now(),
	})
}

type configResponse struct {
	MaxFileSize      int64     `json:"max_file_size"`
	StickerSize      int       `json:"sticker_size"`
	StickerQuality   int       `json:"sticker_quality"`
	ClipMaxAttempts  int       `json:"clip_max_attempts"`
	ReconnectDelay   string    `json:"reconnect_delay"`
	SupportedFormats []string  `json:"supported_formats"`
	Features         []string  `json:"features"`
	Timestamp        time.Time `json:"timestamp"`
}

func (sc *StickerConnector) HandleConfig(w http.ResponseWriter, r *http.Request) {
	cfg := sc.Config
	exhttp.WriteJSONResponse(w, http.StatusOK, &configResponse{
		MaxFileSize:     cfg.Sticker.MaxFileSize,
		StickerSize:     cfg.Sticker.Size,
		StickerQuality:  cfg.Sticker.Quality,
		ClipMaxAttempts: cfg.ClipRetry.MaxAttempts,
		ReconnectDelay:  cfg.ReconnectDelay.String(),
		SupportedFormats: []string{
			"image/jpeg", "image/png", "image/gif", "image/webp", "image/bmp", "image/tiff",
			"video/mp4",
		},
		Features: []string{
			"image to sticker",
			"video to looping GIF",
			"text commands",
		},
		Timestamp: time.Now(),
	})
}

type errorResponse struct {
	Error     string    `json:"error"`
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
}

func (sc *StickerConnector) handleNotFound(w http.ResponseWriter, r *http.Request) {
	exhttp.WriteJSONResponse(w, http.StatusNotFound, &errorResponse{
		Error:     "Not found",
		Path:      r.URL.Path,
		Timestamp: time.Now(),
	})
}
