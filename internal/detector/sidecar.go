package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// SidecarBackend talks to the Python inference process that owns the weights.
type SidecarBackend struct {
	httpClient *http.Client
	baseURL    string
}

func NewSidecarBackend(baseURL string, timeout time.Duration) *SidecarBackend {
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &SidecarBackend{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

type loadRequest struct {
	Weights string `json:"weights"`
}

type loadResponse struct {
	Labels []string `json:"labels"`
	Error  string   `json:"error,omitempty"`
}

type sidecarDetection struct {
	ClassID    int       `json:"class_id"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	Box        []float64 `json:"box"`
}

type predictResponse struct {
	Detections []sidecarDetection `json:"detections"`
}

func (b *SidecarBackend) Load(ctx context.Context, path string) ([]string, error) {
	body, err := json.Marshal(loadRequest{Weights: path})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/load", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	var result loadResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if result.Error != "" {
			return nil, fmt.Errorf("load %s failed: %s", path, result.Error)
		}
		return nil, fmt.Errorf("load %s failed with status: %d", path, resp.StatusCode)
	}

	return result.Labels, nil
}

func (b *SidecarBackend) Predict(ctx context.Context, img image.Image, confidence float64, classes []int) ([]Detection, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if err := jpeg.Encode(part, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	if err := writer.WriteField("conf", strconv.FormatFloat(confidence, 'f', -1, 64)); err != nil {
		return nil, fmt.Errorf("write conf: %w", err)
	}
	if classes != nil {
		ids := make([]string, len(classes))
		for i, c := range classes {
			ids[i] = strconv.Itoa(c)
		}
		if err := writer.WriteField("classes", strings.Join(ids, ",")); err != nil {
			return nil, fmt.Errorf("write classes: %w", err)
		}
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/predict", body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference failed with status: %d", resp.StatusCode)
	}

	var result predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	detections := make([]Detection, 0, len(result.Detections))
	for _, d := range result.Detections {
		if len(d.Box) != 4 {
			return nil, fmt.Errorf("malformed box for class %d: %d coordinates", d.ClassID, len(d.Box))
		}
		detections = append(detections, Detection{
			ClassID:    d.ClassID,
			ClassLabel: d.Label,
			Confidence: d.Confidence,
			Box: Box{
				X1: int(d.Box[0]),
				Y1: int(d.Box[1]),
				X2: int(d.Box[2]),
				Y2: int(d.Box[3]),
			},
		})
	}

	return detections, nil
}

func (b *SidecarBackend) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}
