// Package media adapts the external media tool chain: yt-dlp for fetching
// audio, ffmpeg/ffprobe for normalizing and inspecting it, plus WAV I/O and
// an energy-based voice activity splitter over the normalized PCM.
package media
