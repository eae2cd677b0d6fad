package catalog

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yourusername/pixel-forge/internal/images"
	"github.com/yourusername/pixel-forge/internal/jobs"
)

type memoryStore struct {
	mu         sync.Mutex
	records    map[string]*jobs.Record
	rows       map[string][]jobs.Row
	failAppend bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		records: map[string]*jobs.Record{},
		rows:    map[string][]jobs.Row{},
	}
}

func (m *memoryStore) create(jobID, callbackURL string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[jobID] = &jobs.Record{
		JobID:       jobID,
		Status:      jobs.StatusProcessing,
		CallbackURL: callbackURL,
		CreatedAt:   time.Now().UTC(),
	}
}

func (m *memoryStore) Get(ctx context.Context, jobID string) (*jobs.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[jobID]
	if !ok {
		return nil, nil
	}
	copied := *record
	return &copied, nil
}

func (m *memoryStore) AppendRow(ctx context.Context, row *jobs.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAppend {
		return fmt.Errorf("append failed")
	}
	row.CreatedAt = time.Now().UTC()
	m.rows[row.JobID] = append(m.rows[row.JobID], *row)
	return nil
}

func (m *memoryStore) ListRows(ctx context.Context, jobID string) ([]jobs.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := append([]jobs.Row(nil), m.rows[jobID]...)
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].SerialNumber < rows[j].SerialNumber
	})
	return rows, nil
}

func (m *memoryStore) MarkCompleted(ctx context.Context, jobID, resultPath string) error {
	return m.finalize(jobID, func(record *jobs.Record) {
		record.Status = jobs.StatusCompleted
		record.ResultPath = resultPath
	})
}

func (m *memoryStore) MarkFailed(ctx context.Context, jobID string, errInfo *jobs.ErrorInfo) error {
	return m.finalize(jobID, func(record *jobs.Record) {
		record.Status = jobs.StatusFailed
		record.Error = errInfo
	})
}

func (m *memoryStore) finalize(jobID string, mutate func(*jobs.Record)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[jobID]
	if !ok {
		return fmt.Errorf("job not found: %s", jobID)
	}
	if record.Status.IsTerminal() {
		return fmt.Errorf("job already finalized: %s", jobID)
	}
	mutate(record)
	return nil
}

type stubRowProcessor struct {
	fn func(inputRefs []string) []images.Outcome
}

func (s *stubRowProcessor) ProcessAll(ctx context.Context, inputRefs []string) []images.Outcome {
	return s.fn(inputRefs)
}

func succeedUnlessBad(inputRefs []string) []images.Outcome {
	outcomes := make([]images.Outcome, len(inputRefs))
	for i, ref := range inputRefs {
		if strings.Contains(ref, "bad") {
			outcomes[i] = images.Outcome{InputRef: ref, Err: fmt.Errorf("fetch failed")}
			continue
		}
		outcomes[i] = images.Outcome{InputRef: ref, OutputRef: fmt.Sprintf("/processed_images/out-%d.jpg", i)}
	}
	return outcomes
}

type stubNotifier struct {
	mu      sync.Mutex
	records []*jobs.Record
}

func (s *stubNotifier) Notify(ctx context.Context, record *jobs.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
}

func (s *stubNotifier) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

type testStorage struct {
	resultDir string
	mu        sync.Mutex
	removed   []string
}

func (s *testStorage) ResultPath(jobID string) string {
	return filepath.Join(s.resultDir, "output_"+jobID+".csv")
}

func (s *testStorage) Remove(path string) error {
	s.mu.Lock()
	s.removed = append(s.removed, path)
	s.mu.Unlock()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func newTestExecutor(t *testing.T, store *memoryStore, processor RowProcessor) (*Executor, *stubNotifier, *testStorage) {
	t.Helper()
	notifier := &stubNotifier{}
	storage := &testStorage{resultDir: t.TempDir()}
	executor, err := NewExecutor(store, processor, notifier, storage, nil)
	if err != nil {
		t.Fatalf("NewExecutor returned error: %v", err)
	}
	return executor, notifier, storage
}

func writeSource(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.csv")
	if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
		t.Fatalf("failed to write source file: %v", err)
	}
	return path
}

func readResultRecords(t *testing.T, path string) [][]string {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open result table: %v", err)
	}
	defer file.Close()
	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("failed to read result table: %v", err)
	}
	return records
}

func TestRunJobCompletesWithPartialImageFailures(t *testing.T) {
	store := newMemoryStore()
	store.create("job-1", "")
	executor, notifier, _ := newTestExecutor(t, store, &stubRowProcessor{fn: succeedUnlessBad})

	source := writeSource(t, "S. No.,Product Name,Input Image URLs\n1,Widget,\"http://good/a.png,http://bad/x\"\n")
	if err := executor.RunJob(context.Background(), "job-1", source); err != nil {
		t.Fatalf("RunJob returned error: %v", err)
	}

	record, _ := store.Get(context.Background(), "job-1")
	if record.Status != jobs.StatusCompleted {
		t.Fatalf("status = %s, want completed", record.Status)
	}
	if record.ResultPath == "" {
		t.Fatal("expected result path on completed job")
	}

	rows, _ := store.ListRows(context.Background(), "job-1")
	if len(rows) != 1 {
		t.Fatalf("persisted rows = %d, want 1", len(rows))
	}
	row := rows[0]
	if len(row.InputRefs) != 2 {
		t.Fatalf("input refs = %d, want 2", len(row.InputRefs))
	}
	if len(row.OutputRefs) != 1 {
		t.Fatalf("output refs = %d, want 1", len(row.OutputRefs))
	}
	if row.FailedInputs != 1 {
		t.Fatalf("failed inputs = %d, want 1", row.FailedInputs)
	}

	if notifier.count() != 1 {
		t.Fatalf("notifications = %d, want 1", notifier.count())
	}
	if _, err := os.Stat(source); !os.IsNotExist(err) {
		t.Fatalf("expected source file to be removed, got %v", err)
	}
}

func TestRunJobZeroSuccessRowStillPersists(t *testing.T) {
	store := newMemoryStore()
	store.create("job-1", "")
	allFail := func(inputRefs []string) []images.Outcome {
		outcomes := make([]images.Outcome, len(inputRefs))
		for i, ref := range inputRefs {
			outcomes[i] = images.Outcome{InputRef: ref, Err: fmt.Errorf("fetch failed")}
		}
		return outcomes
	}
	executor, _, _ := newTestExecutor(t, store, &stubRowProcessor{fn: allFail})

	source := writeSource(t, "S. No.,Product Name,Input Image URLs\n1,Widget,\"http://a,http://b\"\n")
	if err := executor.RunJob(context.Background(), "job-1", source); err != nil {
		t.Fatalf("RunJob returned error: %v", err)
	}

	record, _ := store.Get(context.Background(), "job-1")
	if record.Status != jobs.StatusCompleted {
		t.Fatalf("status = %s, want completed", record.Status)
	}

	rows, _ := store.ListRows(context.Background(), "job-1")
	if len(rows) != 1 {
		t.Fatalf("persisted rows = %d, want 1", len(rows))
	}
	if len(rows[0].OutputRefs) != 0 {
		t.Fatalf("output refs = %d, want 0", len(rows[0].OutputRefs))
	}
	if rows[0].FailedInputs != 2 {
		t.Fatalf("failed inputs = %d, want 2", rows[0].FailedInputs)
	}
}

func TestRunJobSkipsUnparsableRows(t *testing.T) {
	store := newMemoryStore()
	store.create("job-1", "")
	executor, _, _ := newTestExecutor(t, store, &stubRowProcessor{fn: succeedUnlessBad})

	source := writeSource(t, strings.Join([]string{
		"S. No.,Product Name,Input Image URLs",
		"1,Widget,http://good/a.png",
		"abc,Broken,http://good/b.png",
		"2,Gadget,http://good/c.png",
	}, "\n")+"\n")
	if err := executor.RunJob(context.Background(), "job-1", source); err != nil {
		t.Fatalf("RunJob returned error: %v", err)
	}

	record, _ := store.Get(context.Background(), "job-1")
	if record.Status != jobs.StatusCompleted {
		t.Fatalf("status = %s, want completed", record.Status)
	}

	rows, _ := store.ListRows(context.Background(), "job-1")
	if len(rows) != 2 {
		t.Fatalf("persisted rows = %d, want 2", len(rows))
	}
}

func TestRunJobUnreadableSourceFails(t *testing.T) {
	store := newMemoryStore()
	store.create("job-1", "")
	executor, notifier, _ := newTestExecutor(t, store, &stubRowProcessor{fn: succeedUnlessBad})

	missing := filepath.Join(t.TempDir(), "missing.csv")
	if err := executor.RunJob(context.Background(), "job-1", missing); err == nil {
		t.Fatal("expected error for unreadable source")
	}

	record, _ := store.Get(context.Background(), "job-1")
	if record.Status != jobs.StatusFailed {
		t.Fatalf("status = %s, want failed", record.Status)
	}
	if record.Error == nil || record.Error.Message == "" {
		t.Fatal("expected non-empty error info on failed job")
	}
	if record.ResultPath != "" {
		t.Fatalf("result path = %q, want empty", record.ResultPath)
	}
	if notifier.count() != 1 {
		t.Fatalf("notifications = %d, want 1", notifier.count())
	}
}

func TestRunJobStoreFailureFailsJob(t *testing.T) {
	store := newMemoryStore()
	store.create("job-1", "")
	store.failAppend = true
	executor, _, _ := newTestExecutor(t, store, &stubRowProcessor{fn: succeedUnlessBad})

	source := writeSource(t, "S. No.,Product Name,Input Image URLs\n1,Widget,http://good/a.png\n")
	if err := executor.RunJob(context.Background(), "job-1", source); err == nil {
		t.Fatal("expected error for store failure")
	}

	record, _ := store.Get(context.Background(), "job-1")
	if record.Status != jobs.StatusFailed {
		t.Fatalf("status = %s, want failed", record.Status)
	}
	if record.Error == nil || record.Error.Code != "PIPELINE_ERROR" {
		t.Fatalf("unexpected error info: %+v", record.Error)
	}
}

func TestRunJobResultOrderedBySerial(t *testing.T) {
	store := newMemoryStore()
	store.create("job-1", "")
	executor, _, _ := newTestExecutor(t, store, &stubRowProcessor{fn: succeedUnlessBad})

	// 重複・順不同のシリアル番号はそのまま受け入れ、集計時に安定ソートされる
	source := writeSource(t, strings.Join([]string{
		"S. No.,Product Name,Input Image URLs",
		"3,Gamma,http://good/3.png",
		"1,AlphaFirst,http://good/1a.png",
		"2,Beta,http://good/2.png",
		"1,AlphaSecond,http://good/1b.png",
	}, "\n")+"\n")
	if err := executor.RunJob(context.Background(), "job-1", source); err != nil {
		t.Fatalf("RunJob returned error: %v", err)
	}

	record, _ := store.Get(context.Background(), "job-1")
	records := readResultRecords(t, record.ResultPath)
	if len(records) != 5 {
		t.Fatalf("result records = %d, want header + 4 rows", len(records))
	}

	wantNames := []string{"AlphaFirst", "AlphaSecond", "Beta", "Gamma"}
	for i, want := range wantNames {
		if got := records[i+1][1]; got != want {
			t.Fatalf("result row %d product = %q, want %q", i+1, got, want)
		}
	}
}

func TestRenderResultIsIdempotent(t *testing.T) {
	store := newMemoryStore()
	store.create("job-1", "")
	executor, _, _ := newTestExecutor(t, store, &stubRowProcessor{fn: succeedUnlessBad})

	source := writeSource(t, "S. No.,Product Name,Input Image URLs\n1,Widget,http://good/a.png\n")
	if err := executor.RunJob(context.Background(), "job-1", source); err != nil {
		t.Fatalf("RunJob returned error: %v", err)
	}

	record, _ := store.Get(context.Background(), "job-1")
	first, err := os.ReadFile(record.ResultPath)
	if err != nil {
		t.Fatalf("failed to read result table: %v", err)
	}

	if _, err := executor.renderResult(context.Background(), "job-1"); err != nil {
		t.Fatalf("renderResult returned error: %v", err)
	}
	second, err := os.ReadFile(record.ResultPath)
	if err != nil {
		t.Fatalf("failed to read result table: %v", err)
	}
	if string(first) != string(second) {
		t.Fatal("expected identical result tables across renders")
	}
}

func TestRunJobsAreIsolatedPerJob(t *testing.T) {
	store := newMemoryStore()
	store.create("job-a", "")
	store.create("job-b", "")
	executor, _, _ := newTestExecutor(t, store, &stubRowProcessor{fn: succeedUnlessBad})

	sourceA := writeSource(t, "S. No.,Product Name,Input Image URLs\n1,FromA,http://good/a.png\n")
	sourceB := writeSource(t, "S. No.,Product Name,Input Image URLs\n1,FromB,http://good/b.png\n")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = executor.RunJob(context.Background(), "job-a", sourceA)
	}()
	go func() {
		defer wg.Done()
		_ = executor.RunJob(context.Background(), "job-b", sourceB)
	}()
	wg.Wait()

	rowsA, _ := store.ListRows(context.Background(), "job-a")
	rowsB, _ := store.ListRows(context.Background(), "job-b")
	if len(rowsA) != 1 || rowsA[0].ProductName != "FromA" {
		t.Fatalf("unexpected rows for job-a: %+v", rowsA)
	}
	if len(rowsB) != 1 || rowsB[0].ProductName != "FromB" {
		t.Fatalf("unexpected rows for job-b: %+v", rowsB)
	}

	recordA, _ := store.Get(context.Background(), "job-a")
	recordB, _ := store.Get(context.Background(), "job-b")
	if recordA.ResultPath == recordB.ResultPath {
		t.Fatal("expected per-job result tables")
	}
}
