// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package orchestrator

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ManuGH/camvisor/internal/camera"
	"github.com/ManuGH/camvisor/internal/media/transcoder"
)

// Default output arguments per role, overridable through camera.OutputOptions.
const (
	DefaultSnapshotOptions = "-an -vsync vfr -q:v 2 -update 1 -frames:v 1"
	DefaultMJPEGOptions    = "-an -q:v 5 -r 2 -vf scale=640:-2 -update 1"
	DefaultGifOptions      = "-r 2 -filter_complex scale=-2:360:flags=lanczos,setpts=0.5*PTS,split[o1][o2];[o1]palettegen[p];[o2]fifo[o3];[o3][p]paletteuse"
	DefaultMp4Options      = "-c:v copy -c:a copy"

	restreamPrefix = "stream"
)

// Ingest paths on the local stream server.
const (
	IngestSnapshotPath = "snapshot.jpg"
	IngestLivePath     = "ipcamera.jpg"
)

func manifestName(format RestreamFormat) string {
	if format == FormatDASH {
		return restreamPrefix + ".mpd"
	}
	return restreamPrefix + ".m3u8"
}

// buildSpecLocked assembles the command of role. seconds is only used by clip roles.
func (m *Media) buildSpecLocked(role camera.Role, seconds int) (transcoder.Spec, error) {
	d := m.device
	spec := transcoder.Spec{
		Role:     role,
		DeviceID: d.ID,
		WorkDir:  m.dirLocked(),
		LogPath:  m.logPathLocked(role),
	}

	args := []string{"-y", "-nostdin", "-hide_banner", "-loglevel", "warning", "-stats"}

	switch role {
	case camera.RoleSnapshot:
		input, err := m.rtspInputLocked()
		if err != nil {
			return spec, err
		}
		opts := orDefault(d.Output.Snapshot, DefaultSnapshotOptions)
		args = append(args, inputArgs(input)...)
		args = append(args, strings.Fields(opts)...)
		args = append(args, "-f", "image2", "-method", "POST", m.ingestURL(IngestSnapshotPath))
		spec.Description = "SNAPSHOT " + opts

	case camera.RoleLivePreview:
		input, err := m.liveInputLocked()
		if err != nil {
			return spec, err
		}
		opts := orDefault(d.Output.MJPEG, DefaultMJPEGOptions)
		args = append(args, inputArgs(input)...)
		args = append(args, strings.Fields(opts)...)
		args = append(args, "-f", "image2", "-method", "POST", m.ingestURL(IngestLivePath))
		spec.Description = "MJPEG " + opts

	case camera.RoleRestream:
		input, err := m.rtspInputLocked()
		if err != nil {
			return spec, err
		}
		args = append(args, inputArgs(input)...)
		out, desc := m.restreamArgsLocked()
		args = append(args, out...)
		spec.Description = desc

	case camera.RoleGif, camera.RoleMp4Record:
		if seconds <= 0 {
			return spec, camera.ConfigErrorf("clip length must be positive")
		}
		input, err := m.clipInputLocked(role)
		if err != nil {
			return spec, err
		}
		opts := orDefault(d.Output.Gif, DefaultGifOptions)
		ext := ".gif"
		if role == camera.RoleMp4Record {
			opts = orDefault(d.Output.Mp4, DefaultMp4Options)
			ext = ".mp4"
		}
		args = append(args, "-t", strconv.Itoa(seconds))
		args = append(args, inputArgs(input)...)
		args = append(args, strings.Fields(opts)...)
		part, _ := clipNames(m.o.now().UnixMilli(), ext)
		args = append(args, part)
		spec.Description = strings.ToUpper(role.String()) + " " + opts

	default:
		return spec, fmt.Errorf("unknown role %q", role)
	}

	spec.Args = args
	return spec, nil
}

func (m *Media) restreamArgsLocked() ([]string, string) {
	cfg := m.o.cfg
	var out []string
	if m.format == FormatDASH {
		out = []string{
			"-c:v", "copy",
			"-use_template", "1",
			"-use_timeline", "1",
			"-window_size", "10",
			"-extra_window_size", "5",
			"-init_seg_name", restreamPrefix + "_init-$RepresentationID$.$ext$",
			"-media_seg_name", restreamPrefix + "_chunk-$RepresentationID$-$Number%05d$.$ext$",
		}
		out = append(out, m.audioArgsLocked()...)
		out = append(out, strings.Fields(cfg.DASHOptions)...)
		out = append(out, "-f", "dash", manifestName(FormatDASH))
		return out, "DASH " + cfg.DASHOptions
	}
	out = []string{
		"-c:v", "copy",
		"-hls_flags", "delete_segments",
		"-hls_init_time", "1",
		"-hls_time", strconv.Itoa(cfg.SegmentSeconds),
		"-hls_list_size", strconv.Itoa(cfg.HLSListSize),
		"-hls_segment_filename", restreamPrefix + "%05d.ts",
	}
	out = append(out, m.audioArgsLocked()...)
	out = append(out, strings.Fields(cfg.HLSOptions)...)
	out = append(out, "-f", "hls", manifestName(FormatHLS))
	return out, "HLS " + cfg.HLSOptions
}

func (m *Media) audioArgsLocked() []string {
	if !m.device.HasAudio {
		return []string{"-an"}
	}
	return []string{"-c:a", "aac", "-ac", "2", "-ab", "32k", "-ar", "44100"}
}

func (m *Media) rtspInputLocked() (string, error) {
	rtsp := m.urls.RTSP
	if rtsp == "" || rtsp == camera.UseTranscoder {
		return "", camera.ConfigErrorf("device %s has no rtsp url", m.device.ID)
	}
	return camera.InjectCredentials(rtsp, m.device.User, m.device.Password), nil
}

// liveInputLocked prefers a vendor MJPEG stream over decoding RTSP.
func (m *Media) liveInputLocked() (string, error) {
	if mj := m.urls.MJPEG; mj != "" && !m.urls.MJPEGFromTranscoder() {
		return camera.InjectCredentials(mj, m.device.User, m.device.Password), nil
	}
	return m.rtspInputLocked()
}

// clipInputLocked prefers the snapshot source for GIFs and the RTSP stream for MP4s.
func (m *Media) clipInputLocked(role camera.Role) (string, error) {
	if role == camera.RoleMp4Record {
		if in, err := m.rtspInputLocked(); err == nil {
			return in, nil
		}
	}
	input, err := m.urls.SnapshotInput()
	if err != nil {
		return "", err
	}
	return camera.InjectCredentials(input, m.device.User, m.device.Password), nil
}

func (m *Media) ingestURL(name string) string {
	base := strings.TrimSuffix(m.o.cfg.IngestURL, "/")
	if base == "" {
		base = "http://127.0.0.1:8089"
	}
	return base + "/" + m.device.ID + "/" + name
}

func inputArgs(input string) []string {
	if strings.HasPrefix(input, "rtsp://") {
		return []string{"-rtsp_transport", "tcp", "-i", input}
	}
	return []string{"-i", input}
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// clipNames returns the hidden file a clip is recorded into and its final name.
func clipNames(millis int64, ext string) (part, final string) {
	final = fmt.Sprintf("clip_%d%s", millis, ext)
	return "." + final, final
}

// tailFile returns the last n lines of path. A missing file yields no lines.
func tailFile(path string, n int) ([]string, error) {
	if n <= 0 {
		n = 100
	}
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()

	ring := transcoder.NewRingBuffer(n)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		ring.Add(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return ring.Last(n), nil
}
