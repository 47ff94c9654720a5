package framework

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// TestServiceInfo is status information returned by the test service from the initial status query.
type TestServiceInfo struct {
	Description  string   `json:"description"`
	Capabilities []string `json:"capabilities"`
}

// TestServiceEntity represents some kind of entity that we have asked the test service to create,
// which the test harness will interact with.
type TestServiceEntity struct {
	resourceURL string
	logger      Logger
}

func queryTestServiceInfo(url string, timeout time.Duration, output io.Writer) (TestServiceInfo, error) {
	fmt.Fprintf(output, "Connecting to test service at %s", url)

	var info TestServiceInfo
	var lastErr error
	_, err := Poll(context.Background(), PollOptions{
		Interval: time.Millisecond * 100,
		Until:    time.Now().Add(timeout),
	}, func(int) (bool, error) {
		fmt.Fprintf(output, ".")
		resp, err := http.DefaultClient.Get(url)
		if err != nil {
			lastErr = err
			return false, nil
		}
		defer resp.Body.Close()
		fmt.Fprintln(output)
		if resp.StatusCode != 200 {
			return false, fmt.Errorf("test service returned status code %d", resp.StatusCode)
		}
		respData, err := io.ReadAll(resp.Body)
		if err != nil {
			return false, err
		}
		if len(respData) == 0 {
			fmt.Fprintf(output, "Status query successful, but service provided no metadata\n")
			return true, nil
		}
		fmt.Fprintf(output, "Status query returned metadata: %s\n", string(respData))
		if err := json.Unmarshal(respData, &info); err != nil {
			return false, fmt.Errorf("malformed status response from test service: %s", string(respData))
		}
		return true, nil
	})
	if errors.Is(err, ErrPollTimeout) {
		fmt.Fprintln(output)
		return TestServiceInfo{}, fmt.Errorf("timed out, result of last query was: %w", lastErr)
	}
	return info, err
}

// StopService tells the test service that it should exit.
func (h *TestHarness) StopService() error {
	req, _ := http.NewRequest("DELETE", h.testServiceBaseURL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err == nil {
		_ = resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("service returned HTTP %d", resp.StatusCode)
		}
	}
	// It's normal for the request to return an I/O error if the service immediately quit before sending a response
	return nil
}

// NewTestServiceEntity tells the test service to create a new instance of whatever kind of entity
// it manages, based on the parameters we provide. The test harness can interact with it via the
// returned TestServiceEntity. The entity is assumed to remain active inside the test service
// until we explicitly close it.
//
// The format of entityParams is defined by the test harness; this low-level method simply calls
// json.Marshal to convert whatever it is to JSON.
func (h *TestHarness) NewTestServiceEntity(
	entityParams interface{},
	description string,
	logger Logger,
) (*TestServiceEntity, error) {
	if logger == nil {
		logger = NullLogger()
	}

	data, err := json.Marshal(entityParams)
	if err != nil {
		return nil, err
	}

	logger.Printf("Creating test service entity (%s) with parameters: %s", description, string(data))
	req, err := http.NewRequest("POST", h.testServiceBaseURL, bytes.NewBuffer(data))
	if err != nil {
		return nil, err
	}
	req.Header.Add("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ = io.ReadAll(resp.Body)
		var message string
		if len(data) > 0 {
			message = ": " + string(data)
		}
		return nil, fmt.Errorf("unexpected response status %d from test service%s", resp.StatusCode, message)
	}
	resourceURL := resp.Header.Get("Location")
	if resourceURL == "" {
		return nil, errors.New("test service did not return a Location header with a resource URL")
	}
	if !strings.HasPrefix(resourceURL, "http:") && !strings.HasPrefix(resourceURL, "https:") {
		resourceURL = h.testServiceBaseURL + resourceURL
	}

	return &TestServiceEntity{
		resourceURL: resourceURL,
		logger:      logger,
	}, nil
}

// ResourceURL returns the URL that the test service assigned to this entity.
func (e *TestServiceEntity) ResourceURL() string {
	return e.resourceURL
}

// Close tells the test service to dispose of this entity.
func (e *TestServiceEntity) Close() error {
	req, err := http.NewRequest("DELETE", e.resourceURL, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode != 200 && resp.StatusCode != 204 {
		return fmt.Errorf("DELETE request to test service returned HTTP status %d", resp.StatusCode)
	}
	return nil
}

// SendCommand sends a command to the test service entity. The params value is serialized to
// JSON as the request body.
func (e *TestServiceEntity) SendCommand(params interface{}) error {
	data, err := json.Marshal(params)
	if err != nil {
		return err
	}
	e.logger.Printf("Sending command: %s", string(data))
	resp, err := http.DefaultClient.Post(e.resourceURL, "application/json", bytes.NewBuffer(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("command returned HTTP status %d", resp.StatusCode)
	}
	return nil
}

// GetStatus queries the entity's resource URL and decodes the JSON response into out.
func (e *TestServiceEntity) GetStatus(out interface{}) error {
	resp, err := http.DefaultClient.Get(e.resourceURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return fmt.Errorf("status request to test service returned HTTP status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("malformed status response from test service entity: %s", string(data))
	}
	return nil
}
