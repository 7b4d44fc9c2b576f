package sink

import (
	"sync"
)

// SavedRecord is one record captured by the mock.
type SavedRecord struct {
	Table  string
	Record interface{}
}

// Mock is an in-memory sink for tests.
type Mock struct {
	mu      sync.Mutex
	Records []SavedRecord
	Content map[string][]byte
	Errors  []string
}

func NewMock() *Mock {
	return &Mock{
		Content: make(map[string][]byte),
	}
}

func (m *Mock) SaveRecord(table string, record interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Records = append(m.Records, SavedRecord{Table: table, Record: record})
	return nil
}

func (m *Mock) SaveContent(data []byte, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Content[hash] = append([]byte(nil), data...)
	return nil
}

func (m *Mock) LogError(message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors = append(m.Errors, message)
	return nil
}

// RecordsFor returns the records saved to the given table.
func (m *Mock) RecordsFor(table string) []SavedRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SavedRecord
	for _, r := range m.Records {
		if r.Table == table {
			out = append(out, r)
		}
	}
	return out
}

// ErrorCount returns the number of logged errors.
func (m *Mock) ErrorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Errors)
}
