package support

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"time"

	"github.com/MeKo-Tech/fastdet/internal/config"
	"github.com/MeKo-Tech/fastdet/internal/labels"
	"github.com/MeKo-Tech/fastdet/internal/server"
	"github.com/MeKo-Tech/fastdet/internal/tensor"
	"github.com/cucumber/godog"
)

// startServer runs the detection API in-process on an httptest listener.
func (testCtx *TestContext) startServer(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	pc, err := cfg.ToPipelineConfig()
	if err != nil {
		return err
	}
	detServer, err := server.NewServer(server.Config{
		CORSOrigin:     cfg.Server.CORSOrigin,
		MaxUploadMB:    int64(cfg.Server.MaxUploadMB),
		TimeoutSec:     cfg.Server.TimeoutSec,
		PipelineConfig: pc,
		Labels:         labels.COCO(),
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	testCtx.HTTPTestServer = httptest.NewServer(detServer.Handler())
	testCtx.serverCleanup = detServer.Close
	return nil
}

func (testCtx *TestContext) theDetectionServerIsRunning() error {
	cfg := config.DefaultConfig()
	return testCtx.startServer(&cfg)
}

func (testCtx *TestContext) theDetectionServerIsRunningWithVariantAndClasses(variant string, classes int) error {
	cfg := config.DefaultConfig()
	cfg.Detector.Variant = variant
	cfg.Detector.NumClasses = classes
	return testCtx.startServer(&cfg)
}

func (testCtx *TestContext) theDetectionServerIsRunningWithCORSOrigin(origin string) error {
	cfg := config.DefaultConfig()
	cfg.Server.CORSOrigin = origin
	return testCtx.startServer(&cfg)
}

func (testCtx *TestContext) do(req *http.Request) error {
	if testCtx.HTTPTestServer == nil {
		return errors.New("server is not running")
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	testCtx.LastHTTPStatusCode = resp.StatusCode
	testCtx.LastHTTPResponse = string(body)
	testCtx.LastHTTPHeaders = make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		testCtx.LastHTTPHeaders[k] = resp.Header.Get(k)
	}
	return nil
}

func (testCtx *TestContext) newRequest(method, endpoint string, body io.Reader) (*http.Request, error) {
	return http.NewRequest(method, testCtx.HTTPTestServer.URL+endpoint, body) //nolint:noctx // test client
}

func (testCtx *TestContext) iGET(endpoint string) error {
	if testCtx.HTTPTestServer == nil {
		return errors.New("server is not running")
	}
	req, err := testCtx.newRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return testCtx.do(req)
}

func (testCtx *TestContext) iSendAnOPTIONSRequestToWithOrigin(endpoint, origin string) error {
	if testCtx.HTTPTestServer == nil {
		return errors.New("server is not running")
	}
	req, err := testCtx.newRequest(http.MethodOptions, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Origin", origin)
	return testCtx.do(req)
}

// iPOSTTheTensorsTo concatenates raw tensor files into one request body.
func (testCtx *TestContext) iPOSTTheTensorsTo(files, endpoint string) error {
	if testCtx.HTTPTestServer == nil {
		return errors.New("server is not running")
	}
	var body bytes.Buffer
	for _, name := range strings.Split(files, ",") {
		data, err := os.ReadFile(testCtx.TempPath(strings.TrimSpace(name)))
		if err != nil {
			return err
		}
		body.Write(data)
	}
	req, err := testCtx.newRequest(http.MethodPost, endpoint, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	return testCtx.do(req)
}

// iPOSTADetectRequestWithTensorsForAnImage sends JSON tensor files as a
// /v1/detect request body.
func (testCtx *TestContext) iPOSTADetectRequestWithTensorsForAnImage(files string, width, height int) error {
	if testCtx.HTTPTestServer == nil {
		return errors.New("server is not running")
	}
	req := server.DetectRequest{ImageWidth: width, ImageHeight: height}
	for _, name := range strings.Split(files, ",") {
		t, err := tensor.LoadFile(testCtx.TempPath(strings.TrimSpace(name)), nil)
		if err != nil {
			return err
		}
		req.Tensors = append(req.Tensors, t)
	}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := testCtx.newRequest(http.MethodPost, "/v1/detect", bytes.NewReader(data))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return testCtx.do(httpReq)
}

func (testCtx *TestContext) theResponseStatusShouldBe(expected int) error {
	if testCtx.LastHTTPStatusCode != expected {
		return fmt.Errorf("expected status %d, got %d\nBody: %s", expected, testCtx.LastHTTPStatusCode, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseShouldContain(text string) error {
	if !strings.Contains(testCtx.LastHTTPResponse, text) {
		return fmt.Errorf("response does not contain '%s'\nBody: %s", text, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseShouldHaveBoxes(want int) error {
	var resp server.DetectResponse
	if err := json.Unmarshal([]byte(testCtx.LastHTTPResponse), &resp); err != nil {
		return fmt.Errorf("response is not a detect response: %w", err)
	}
	if len(resp.Boxes) != want {
		return fmt.Errorf("expected %d boxes, got %d\nBody: %s", want, len(resp.Boxes), testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseHeaderShouldBe(name, value string) error {
	if got := testCtx.LastHTTPHeaders[http.CanonicalHeaderKey(name)]; got != value {
		return fmt.Errorf("header %s: expected %q, got %q", name, value, got)
	}
	return nil
}

// RegisterServerSteps registers the HTTP API steps.
func (testCtx *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the detection server is running$`, testCtx.theDetectionServerIsRunning)
	sc.Step(`^the detection server is running with variant "([^"]*)" and (\d+) classes$`,
		testCtx.theDetectionServerIsRunningWithVariantAndClasses)
	sc.Step(`^the detection server is running with CORS origin "([^"]*)"$`,
		testCtx.theDetectionServerIsRunningWithCORSOrigin)

	sc.Step(`^I GET "([^"]*)"$`, testCtx.iGET)
	sc.Step(`^I send an OPTIONS request to "([^"]*)" with origin "([^"]*)"$`, testCtx.iSendAnOPTIONSRequestToWithOrigin)
	sc.Step(`^I POST the tensors "([^"]*)" to "([^"]*)"$`, testCtx.iPOSTTheTensorsTo)
	sc.Step(`^I POST a detect request with tensors "([^"]*)" for a (\d+)x(\d+) image$`,
		testCtx.iPOSTADetectRequestWithTensorsForAnImage)

	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the response should contain "([^"]*)"$`, testCtx.theResponseShouldContain)
	sc.Step(`^the response should have (\d+) box(?:es)?$`, testCtx.theResponseShouldHaveBoxes)
	sc.Step(`^the response header "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseHeaderShouldBe)
}
