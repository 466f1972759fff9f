package e2e

import (
	"bytes"
	"encoding/base64"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vault12/zaxmail/internal/testrelay"
	"github.com/vault12/zaxmail/internal/zaxcli"
)

// runCmd drives the zaxcli cobra tree directly and captures stdout, the
// way the teacher's own e2e test drives internal/client.GetRootCmd().
func runCmd(t *testing.T, configDir, relayURL string, args ...string) (string, error) {
	t.Helper()
	configFile := filepath.Join(configDir, "config.json")

	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	fullArgs := append(append([]string{}, args...), "--config", configFile)
	if relayURL != "" {
		fullArgs = append(fullArgs, "--relay", relayURL)
	}

	cmd := zaxcli.GetRootCmd()
	cmd.SetArgs(fullArgs)
	err := cmd.Execute()

	_ = w.Close()
	os.Stdout = oldStdout

	var buf bytes.Buffer
	_, _ = buf.ReadFrom(r)
	return buf.String(), err
}

func TestEndToEndTextAndFile(t *testing.T) {
	relay := testrelay.New(nil)
	ts := httptest.NewServer(relay)
	defer ts.Close()

	aliceDir, err := os.MkdirTemp("", "zaxmail-e2e-alice")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(aliceDir) }()

	bobDir, err := os.MkdirTemp("", "zaxmail-e2e-bob")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(bobDir) }()

	aliceStore := filepath.Join(aliceDir, "alice.bolt")
	bobStore := filepath.Join(bobDir, "bob.bolt")

	// Register both identities.
	aliceOut, err := runCmd(t, aliceDir, ts.URL, "register", "alice", "--storage-root", aliceStore)
	if err != nil {
		t.Fatalf("alice register failed: %v (%s)", err, aliceOut)
	}
	bobOut, err := runCmd(t, bobDir, ts.URL, "register", "bob", "--storage-root", bobStore)
	if err != nil {
		t.Fatalf("bob register failed: %v (%s)", err, bobOut)
	}

	alicePub := extractPublicKey(t, aliceOut)
	bobPub := extractPublicKey(t, bobOut)

	if _, err := runCmd(t, aliceDir, ts.URL, "add-guest", "bob", bobPub); err != nil {
		t.Fatalf("alice add-guest failed: %v", err)
	}
	if _, err := runCmd(t, bobDir, ts.URL, "add-guest", "alice", alicePub); err != nil {
		t.Fatalf("bob add-guest failed: %v", err)
	}

	// Alice sends Bob a text message.
	sendOut, err := runCmd(t, aliceDir, ts.URL, "send", "bob", "hello bob")
	if err != nil {
		t.Fatalf("alice send failed: %v (%s)", err, sendOut)
	}
	if !strings.Contains(sendOut, "Sent.") {
		t.Errorf("expected send confirmation, got: %s", sendOut)
	}

	downloadOut, err := runCmd(t, bobDir, ts.URL, "download")
	if err != nil {
		t.Fatalf("bob download failed: %v (%s)", err, downloadOut)
	}
	if !strings.Contains(downloadOut, "hello bob") || !strings.Contains(downloadOut, "alice") {
		t.Errorf("expected alice's message in download output, got: %s", downloadOut)
	}

	// Alice sends Bob a file.
	testFile := filepath.Join(aliceDir, "hello.txt")
	if err := os.WriteFile(testFile, []byte("Hello Bob, this is a file!"), 0644); err != nil {
		t.Fatal(err)
	}

	sendFileOut, err := runCmd(t, aliceDir, ts.URL, "send-file", "bob", testFile)
	if err != nil {
		t.Fatalf("alice send-file failed: %v (%s)", err, sendFileOut)
	}
	uploadID := extractUploadID(t, sendFileOut)

	bobDownloadOut, err := runCmd(t, bobDir, ts.URL, "download")
	if err != nil {
		t.Fatalf("bob download (file) failed: %v (%s)", err, bobDownloadOut)
	}
	if !strings.Contains(bobDownloadOut, "hello.txt") {
		t.Errorf("expected file metadata in download output, got: %s", bobDownloadOut)
	}

	destFile := filepath.Join(bobDir, "received.txt")
	recvOut, err := runCmd(t, bobDir, ts.URL, "recv-file", uploadID, destFile)
	if err != nil {
		t.Fatalf("bob recv-file failed: %v (%s)", err, recvOut)
	}

	content, err := os.ReadFile(destFile)
	if err != nil {
		t.Fatalf("failed to read received file: %v", err)
	}
	if string(content) != "Hello Bob, this is a file!" {
		t.Errorf("expected file content to round-trip, got %q", string(content))
	}
}

func extractPublicKey(t *testing.T, output string) string {
	t.Helper()
	for _, line := range strings.Split(output, "\n") {
		if strings.HasPrefix(line, "Public key: ") {
			key := strings.TrimPrefix(line, "Public key: ")
			if _, err := base64.StdEncoding.DecodeString(key); err != nil {
				t.Fatalf("malformed public key in output: %q", key)
			}
			return key
		}
	}
	t.Fatalf("no public key found in output: %s", output)
	return ""
}

func extractUploadID(t *testing.T, output string) string {
	t.Helper()
	for _, line := range strings.Split(output, "\n") {
		if strings.HasPrefix(line, "File sent. Upload ID: ") {
			return strings.TrimPrefix(line, "File sent. Upload ID: ")
		}
	}
	t.Fatalf("no upload ID found in output: %s", output)
	return ""
}
