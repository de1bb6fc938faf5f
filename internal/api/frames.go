package api

import (
	"context"
	"encoding/base64"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/gorilla/websocket"
	"github.com/smazurov/camnode/internal/api/models"
	"github.com/smazurov/camnode/internal/codec"
	"github.com/smazurov/camnode/internal/frames"
)

const streamWriteWait = 5 * time.Second

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func (s *Server) registerFrameRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "snap-image",
		Method:      http.MethodGet,
		Path:        "/api/cameras/{id}/snap",
		Summary:     "Snap Image",
		Description: "Wait for the next frame and return it encoded as an image",
		Tags:        []string{"frames"},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.SnapInput) (*models.SnapResponse, error) {
		format, err := codec.ParseFormat(input.Format)
		if err != nil {
			return nil, s.mapError(err)
		}
		res, err := s.cameras.Snap(ctx, input.ID, format, millis(input.Timeout))
		if err != nil {
			return nil, s.mapError(err)
		}
		return &models.SnapResponse{
			ContentType: res.Format.ContentType(),
			Seq:         strconv.FormatUint(res.Seq, 10),
			Timestamp:   res.Timestamp.UTC().Format(time.RFC3339Nano),
			Body:        res.Data,
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-frame",
		Method:      http.MethodGet,
		Path:        "/api/cameras/{id}/frame",
		Summary:     "Get Frame",
		Description: "Return the latest frame, or the next one when wait is set",
		Tags:        []string{"frames"},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.FrameInput) (*models.FrameResponse, error) {
		var format codec.Format
		if input.Encoding == "base64" {
			f, err := codec.ParseFormat(input.Format)
			if err != nil {
				return nil, s.mapError(err)
			}
			format = f
		}

		get := s.cameras.LatestFrame
		if input.Wait {
			get = s.cameras.WaitNextFrame
		}
		f, err := get(ctx, input.ID, millis(input.Timeout))
		if err != nil {
			return nil, s.mapError(err)
		}

		data := models.FrameData{
			Seq:          f.Seq,
			Timestamp:    f.Timestamp,
			Width:        f.Width,
			Height:       f.Height,
			PixelFormat:  f.Format,
			ExposureTime: f.ExposureTime,
			AnalogGain:   f.AnalogGain,
		}
		if format != "" {
			img, err := codec.Encode(f, format, codec.Options{Quality: codec.DefaultSnapQuality})
			if err != nil {
				return nil, s.mapError(err)
			}
			data.Format = string(format)
			data.Image = base64.StdEncoding.EncodeToString(img)
		}
		return &models.FrameResponse{Body: data}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-statistics",
		Method:      http.MethodGet,
		Path:        "/api/cameras/{id}/statistics",
		Summary:     "Frame Statistics",
		Description: "Hardware, delivered and dropped frame counters with loss rate and fps",
		Tags:        []string{"frames"},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.CameraInput) (*models.StatisticsResponse, error) {
		sess, err := s.cameras.Get(input.ID)
		if err != nil {
			return nil, s.mapError(err)
		}
		return &models.StatisticsResponse{
			Body: models.StatisticsData{
				Snapshot:    sess.Stats().Snapshot(),
				Subscribers: sess.Distributor().Subscribers(),
			},
		}, nil
	})
}

// registerStreamRoute serves the websocket frame stream. It lives outside
// huma because the connection is hijacked.
func (s *Server) registerStreamRoute() {
	s.mux.HandleFunc("GET /api/cameras/{id}/stream", s.handleStream)
}

func streamOptions(r *http.Request) (codec.Format, codec.Options, error) {
	q := r.URL.Query()
	format := codec.JPEG
	if v := q.Get("format"); v != "" {
		f, err := codec.ParseFormat(v)
		if err != nil {
			return "", codec.Options{}, err
		}
		format = f
	}

	var opts codec.Options
	if v := q.Get("quality"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			return "", codec.Options{}, codec.ErrUnsupportedFormat
		}
		opts.Quality = n
	}
	if v := q.Get("max_width"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return "", codec.Options{}, codec.ErrUnsupportedFormat
		}
		opts.MaxWidth = n
	}
	return format, opts, nil
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r) {
		return
	}
	id := r.PathValue("id")

	format, opts, err := streamOptions(r)
	if err != nil {
		http.Error(w, "invalid stream options", http.StatusBadRequest)
		return
	}

	// Subscribe before upgrading so errors still map to HTTP status codes.
	sub, err := s.cameras.OpenStream(id)
	if err != nil {
		http.Error(w, err.Error(), s.statusOf(err))
		return
	}
	defer s.cameras.CloseStream(sub)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", "camera_id", id, "error", err)
		return
	}
	defer conn.Close()

	logger := s.logger.With("camera_id", id, "subscription", sub.ID())
	logger.Info("Stream opened", "format", format, "remote_addr", r.RemoteAddr)

	// Client messages are ignored; reading surfaces the close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			logger.Info("Stream closed by client")
			return
		case f, ok := <-sub.C():
			if !ok {
				s.closeStream(conn, sub.Reason())
				logger.Info("Stream ended", "reason", sub.Reason(), "dropped", sub.Dropped())
				return
			}
			img, err := s.cameras.EncodeForStream(id, f, format, opts)
			if err != nil {
				logger.Warn("Dropping frame that failed to encode", "seq", f.Seq, "error", err)
				continue
			}
			msg := models.StreamMessage{
				Seq:       f.Seq,
				Timestamp: f.Timestamp.UTC().Format(time.RFC3339Nano),
				Width:     f.Width,
				Height:    f.Height,
				Format:    string(format),
				Image:     base64.StdEncoding.EncodeToString(img),
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				logger.Debug("Stream write failed", "error", err)
				return
			}
		}
	}
}

// closeStream tells the client why the server ended its stream.
func (s *Server) closeStream(conn *websocket.Conn, reason frames.Reason) {
	code := websocket.CloseNormalClosure
	switch reason {
	case frames.ReasonSlowConsumer:
		code = websocket.ClosePolicyViolation
	case frames.ReasonSessionEnded:
		code = websocket.CloseGoingAway
	}
	msg := websocket.FormatCloseMessage(code, string(reason))
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(streamWriteWait))
}
