package audit

import (
	"os"
	"strings"
	"testing"
)

func TestSanitiseKey_Secret(t *testing.T) {
	t.Parallel()
	if got := SanitiseKey("OPENAI_API_KEY", "sk-abc123"); got != "set" {
		t.Errorf("expected 'set', got %q", got)
	}
	if got := SanitiseKey("OPENAI_API_KEY", ""); got != "unset" {
		t.Errorf("expected 'unset', got %q", got)
	}
}

func TestSanitiseKey_NonSecret(t *testing.T) {
	t.Parallel()
	if got := SanitiseKey("MODEL_PROVIDER", "azure"); got != "azure" {
		t.Errorf("expected 'azure', got %q", got)
	}
	if got := SanitiseKey("MODEL_PROVIDER", ""); got != "unset" {
		t.Errorf("expected 'unset', got %q", got)
	}
}

func TestSanitiseKey_IndexSecrets(t *testing.T) {
	t.Parallel()
	for _, k := range []string{"MILVUS_PASSWORD", "QDRANT_API_KEY", "ARK_API_KEY"} {
		if got := SanitiseKey(k, "hunter2"); got != "set" {
			t.Errorf("%s: expected 'set', got %q", k, got)
		}
	}
}

func TestSnapshot_RedactsSecrets(t *testing.T) {
	t.Setenv("MILVUS_PASSWORD", "hunter2")
	t.Setenv("INDEX_BACKEND", "milvus")
	t.Setenv("EMBEDDING_API_KEY", "")

	snap := Snapshot()
	if got := snap["MILVUS_PASSWORD"]; got != "set" {
		t.Errorf("MILVUS_PASSWORD: expected 'set', got %q", got)
	}
	if got := snap["INDEX_BACKEND"]; got != "milvus" {
		t.Errorf("INDEX_BACKEND: expected 'milvus', got %q", got)
	}
	if got := snap["EMBEDDING_API_KEY"]; got != "unset" {
		t.Errorf("EMBEDDING_API_KEY: expected 'unset', got %q", got)
	}
	for k, v := range snap {
		if strings.Contains(v, "hunter2") {
			t.Errorf("%s leaked a secret value", k)
		}
	}
}

func TestPresence(t *testing.T) {
	t.Parallel()
	if got := presence("something"); got != "set" {
		t.Errorf("expected 'set', got %q", got)
	}
	if got := presence(""); got != "unset" {
		t.Errorf("expected 'unset', got %q", got)
	}
}

func TestSanitiseConfigPath(t *testing.T) {
	t.Parallel()
	if got := sanitiseConfigPath(""); got != "none" {
		t.Errorf("expected 'none', got %q", got)
	}
	if got := sanitiseConfigPath("/tmp/config.yaml"); got != "/tmp/config.yaml" {
		t.Errorf("expected '/tmp/config.yaml', got %q", got)
	}
	home, err := os.UserHomeDir()
	if err == nil {
		p := home + "/.paperrag/config.yaml"
		if got := sanitiseConfigPath(p); got != "~/.paperrag/config.yaml" {
			t.Errorf("expected '~/.paperrag/config.yaml', got %q", got)
		}
	}
}

func TestAuditKeys_CoverEverySecret(t *testing.T) {
	t.Parallel()
	listed := make(map[string]bool, len(auditKeys))
	for _, k := range auditKeys {
		if listed[k] {
			t.Errorf("%s listed twice", k)
		}
		listed[k] = true
	}
	for k := range secretEnvKeys {
		if !listed[k] {
			t.Errorf("secret %s is redacted but never reported", k)
		}
	}
}
