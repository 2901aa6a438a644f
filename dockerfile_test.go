package main

import (
	"os"
	"slices"
	"strings"
	"testing"
)

type manifest struct {
	instructions []string
	packages     []string
	ytDlp        string
}

// readManifest joins continuation lines and separates the apt package list
// and the yt-dlp install step from the remaining instructions.
func readManifest(t *testing.T, path string) manifest {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read %s: %v", path, err)
	}

	var logical []string
	var current strings.Builder
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasSuffix(line, "\\") {
			current.WriteString(strings.TrimSuffix(line, "\\"))
			current.WriteString(" ")
			continue
		}
		current.WriteString(line)
		logical = append(logical, strings.Join(strings.Fields(current.String()), " "))
		current.Reset()
	}

	var m manifest
	for _, instr := range logical {
		switch {
		case strings.Contains(instr, "apt-get install"):
			m.packages = aptPackages(instr)
			m.instructions = append(m.instructions, "<apt>")
		case strings.HasPrefix(instr, "RUN pip install") && strings.Contains(instr, "yt-dlp"):
			if m.ytDlp != "" {
				t.Fatalf("%s: more than one yt-dlp install step", path)
			}
			m.ytDlp = instr
			m.instructions = append(m.instructions, "<yt-dlp>")
		default:
			m.instructions = append(m.instructions, instr)
		}
	}
	return m
}

func aptPackages(instr string) []string {
	_, rest, _ := strings.Cut(instr, "apt-get install")
	rest, _, _ = strings.Cut(rest, "&&")
	var pkgs []string
	for _, field := range strings.Fields(rest) {
		if !strings.HasPrefix(field, "-") {
			pkgs = append(pkgs, field)
		}
	}
	slices.Sort(pkgs)
	return pkgs
}

func TestDockerfilesDifferOnlyInYtDlpSource(t *testing.T) {
	master := readManifest(t, "Dockerfile")
	stable := readManifest(t, "Dockerfile.stable")

	if !slices.Equal(master.instructions, stable.instructions) {
		t.Errorf("Dockerfiles differ outside the yt-dlp and package steps:\nDockerfile:        %q\nDockerfile.stable: %q", master.instructions, stable.instructions)
	}

	if !strings.Contains(master.ytDlp, "yt-dlp/archive/master.tar.gz") {
		t.Errorf("Dockerfile should install yt-dlp from the master tarball, got %q", master.ytDlp)
	}
	if !strings.HasSuffix(stable.ytDlp, " yt-dlp") {
		t.Errorf("Dockerfile.stable should install the stable yt-dlp package, got %q", stable.ytDlp)
	}

	var extra []string
	for _, pkg := range stable.packages {
		if !slices.Contains(master.packages, pkg) {
			extra = append(extra, pkg)
		}
	}
	for _, pkg := range master.packages {
		if !slices.Contains(stable.packages, pkg) {
			t.Errorf("Dockerfile.stable is missing package %s", pkg)
		}
	}
	if !slices.Equal(extra, []string{"ca-certificates", "openssl"}) {
		t.Errorf("Expected Dockerfile.stable to add only ca-certificates and openssl, got %v", extra)
	}
}

func TestDockerfileRuntimeContract(t *testing.T) {
	required := []string{
		"bash", "curl", "wget", "git", "gcc", "g++", "ffmpeg",
		"libsndfile1", "libsndfile1-dev", "libsm6", "libxext6",
		"libfontconfig1", "libxrender1", "libgl1", "libglib2.0-0",
	}
	for _, path := range []string{"Dockerfile", "Dockerfile.stable"} {
		m := readManifest(t, path)
		for _, pkg := range required {
			if !slices.Contains(m.packages, pkg) {
				t.Errorf("%s: missing system package %s", path, pkg)
			}
		}
		for _, want := range []string{
			"FROM python:3.9-slim",
			"RUN pip install --no-cache-dir -r requirements.txt",
			"COPY resources/ resources/",
			"COPY app.sh .",
			"RUN chmod +x app.sh",
		} {
			if !slices.Contains(m.instructions, want) {
				t.Errorf("%s: missing instruction %q", path, want)
			}
		}
		if last := m.instructions[len(m.instructions)-1]; last != `CMD ["./app.sh"]` {
			t.Errorf("%s: expected ./app.sh as the default command, got %q", path, last)
		}
	}
}

func TestAppScriptChecksTools(t *testing.T) {
	data, err := os.ReadFile("app.sh")
	if err != nil {
		t.Fatalf("Failed to read app.sh: %v", err)
	}
	script := string(data)
	if !strings.HasPrefix(script, "#!/usr/bin/env bash") {
		t.Error("app.sh must start with a bash shebang")
	}
	for _, tool := range []string{"yt-dlp", "ffmpeg"} {
		if !strings.Contains(script, tool) {
			t.Errorf("app.sh does not check %s", tool)
		}
	}
	if !strings.Contains(script, "exec gpt-diarizer serve") {
		t.Error("app.sh must exec the server")
	}
}
