package knowledge

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestFullConcatenatesSorted(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "02_pricing.txt", "Тариф стоит 50000 тенге.")
	writeFile(t, dir, "01_about.md", "Мы продаём CRM.")
	writeFile(t, dir, "notes.pdf", "ignored binary")

	l := NewLoader(dir, 3000)
	got := l.Full()

	about := strings.Index(got, "Мы продаём CRM.")
	pricing := strings.Index(got, "Тариф стоит 50000 тенге.")
	if about == -1 || pricing == -1 {
		t.Fatalf("knowledge missing content: %q", got)
	}
	if about > pricing {
		t.Error("files not concatenated in name order")
	}
	if strings.Contains(got, "ignored binary") {
		t.Error("non-text file included")
	}
}

func TestFullBoundsLength(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "big.txt", strings.Repeat("а", 500))

	l := NewLoader(dir, 100)
	if got := l.Full(); len(got) > 100 {
		t.Errorf("knowledge length = %d, want <= 100", len(got))
	}
}

func TestFullEmptyDir(t *testing.T) {
	l := NewLoader("", 3000)
	if got := l.Full(); got != "" {
		t.Errorf("empty dir knowledge = %q, want empty", got)
	}
}

func TestFullCachesUntilReload(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "первая версия")

	l := NewLoader(dir, 3000)
	if got := l.Full(); !strings.Contains(got, "первая версия") {
		t.Fatalf("initial load = %q", got)
	}

	writeFile(t, dir, "a.txt", "вторая версия")
	if got := l.Full(); !strings.Contains(got, "первая версия") {
		t.Errorf("cached load = %q, want original content", got)
	}

	l.Reload()
	if got := l.Full(); !strings.Contains(got, "вторая версия") {
		t.Errorf("reloaded = %q, want updated content", got)
	}
}
