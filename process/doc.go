// Package process runs external tools (yt-dlp, ffmpeg, ffprobe) under
// supervision: bounded output capture, timeouts, graceful termination on
// cancellation and exit-code mapping.
package process
