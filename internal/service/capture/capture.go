// Package capture opens camera sources with gocv, preferring a hardware
// GStreamer pipeline for RTSP streams and falling back to FFmpeg.
package capture

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"dwellwatch/internal/logger"

	"gocv.io/x/gocv"
)

// Backend names reported by VideoSource.Backend.
const (
	BackendGStreamer = "gstreamer-nvdec"
	BackendFFmpeg    = "ffmpeg"
	BackendDevice    = "device"
)

// ErrNotOpened is returned when no backend could open the source.
var ErrNotOpened = errors.New("video source could not be opened")

// Properties describe the stream a source produces.
type Properties struct {
	Width  int
	Height int
	FPS    float64
}

// VideoSource reads frames from one camera. Read, Reopen and Close are
// called from the owning worker only; Properties and Backend may be called
// from any goroutine.
type VideoSource struct {
	uri     string
	logger  *logger.Logger
	mu      sync.Mutex
	cap     *gocv.VideoCapture
	backend string
	props   Properties
}

// Open opens uri. RTSP sources try the NVDEC pipeline first.
func Open(uri string, logger *logger.Logger) (*VideoSource, error) {
	s := &VideoSource{uri: uri, logger: logger}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

// GStreamerPipeline builds the hardware decoding pipeline for an RTSP uri.
func GStreamerPipeline(uri string) string {
	return fmt.Sprintf("rtspsrc location=%s latency=100 protocols=tcp ! "+
		"rtph264depay ! h264parse ! nvh264dec ! "+
		"videoconvert ! video/x-raw,format=BGR ! appsink drop=true max-buffers=1 sync=false", uri)
}

func (s *VideoSource) open() error {
	vc, backend, err := s.tryBackends()
	if err != nil {
		return err
	}

	props := Properties{
		Width:  int(vc.Get(gocv.VideoCaptureFrameWidth)),
		Height: int(vc.Get(gocv.VideoCaptureFrameHeight)),
		FPS:    vc.Get(gocv.VideoCaptureFPS),
	}

	s.mu.Lock()
	s.cap = vc
	s.backend = backend
	s.props = props
	s.mu.Unlock()

	s.logger.Info("📷 Opened %s with %s: %dx%d @ %.1f FPS", s.uri, backend, props.Width, props.Height, props.FPS)
	return nil
}

func (s *VideoSource) tryBackends() (*gocv.VideoCapture, string, error) {
	if device, err := strconv.Atoi(s.uri); err == nil {
		vc, err := gocv.OpenVideoCapture(device)
		if err == nil && vc.IsOpened() {
			return vc, BackendDevice, nil
		}
		closeCapture(vc)
		return nil, "", fmt.Errorf("%w: device %d", ErrNotOpened, device)
	}

	if strings.HasPrefix(strings.ToLower(s.uri), "rtsp://") {
		vc, err := gocv.OpenVideoCaptureWithAPI(GStreamerPipeline(s.uri), gocv.VideoCaptureGstreamer)
		if err == nil && vc.IsOpened() {
			vc.Set(gocv.VideoCaptureBufferSize, 1)
			return vc, BackendGStreamer, nil
		}
		closeCapture(vc)
		s.logger.Warning("GStreamer NVDEC could not open %s, falling back to FFmpeg", s.uri)
	}

	vc, err := gocv.OpenVideoCaptureWithAPI(s.uri, gocv.VideoCaptureFFmpeg)
	if err == nil && vc.IsOpened() {
		return vc, BackendFFmpeg, nil
	}
	closeCapture(vc)
	return nil, "", fmt.Errorf("%w: %s", ErrNotOpened, s.uri)
}

func closeCapture(vc *gocv.VideoCapture) {
	if vc != nil {
		vc.Close()
	}
}

// Read decodes the next frame into dst.
func (s *VideoSource) Read(dst *gocv.Mat) bool {
	if s.cap == nil || !s.cap.IsOpened() {
		return false
	}
	return s.cap.Read(dst) && !dst.Empty()
}

// Reopen closes and reopens the source.
func (s *VideoSource) Reopen() bool {
	s.logger.Info("Reopening %s", s.uri)
	s.release()
	if err := s.open(); err != nil {
		s.logger.Warning("Reopen failed: %v", err)
		return false
	}
	return true
}

// Properties of the currently open stream.
func (s *VideoSource) Properties() Properties {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.props
}

// Backend names the decoder in use.
func (s *VideoSource) Backend() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend
}

// Close releases the capture.
func (s *VideoSource) Close() error {
	s.release()
	return nil
}

func (s *VideoSource) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cap != nil {
		s.cap.Close()
		s.cap = nil
	}
}
