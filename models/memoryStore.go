package models

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/datatypes"
)

// MemoryStore is an in-process Store used by tests and local runs without MySQL.
// Values are copied on the way in and out so callers never share state.
type MemoryStore struct {
	mu       sync.RWMutex
	seq      int
	farmers  map[int]Farmer
	crops    map[int]Crop
	records  map[int]VerificationRecord
	credits  map[int]CarbonCredit
	reports  map[int]ComplianceReport
	nodes    map[int]MRVNode
	readings map[int]SensorReading
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		farmers:  map[int]Farmer{},
		crops:    map[int]Crop{},
		records:  map[int]VerificationRecord{},
		credits:  map[int]CarbonCredit{},
		reports:  map[int]ComplianceReport{},
		nodes:    map[int]MRVNode{},
		readings: map[int]SensorReading{},
	}
}

func (s *MemoryStore) nextID() int {
	s.seq++
	return s.seq
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}

func cloneRecord(r VerificationRecord) VerificationRecord {
	r.Analysis.Findings = datatypes.JSONSlice[string](cloneSlice(r.Analysis.Findings))
	r.Analysis.Recommendations = datatypes.JSONSlice[string](cloneSlice(r.Analysis.Recommendations))
	return r
}

func cloneCredit(c CarbonCredit) CarbonCredit {
	c.EvidenceRecords = datatypes.JSONSlice[int](cloneSlice(c.EvidenceRecords))
	return c
}

func cloneNode(n MRVNode) MRVNode {
	n.MemberFarmers = datatypes.JSONSlice[int](cloneSlice(n.MemberFarmers))
	n.Equipment.Sensors = datatypes.JSONSlice[string](cloneSlice(n.Equipment.Sensors))
	return n
}

func (s *MemoryStore) CreateFarmer(_ context.Context, farmer *Farmer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.farmers {
		if f.UserId == farmer.UserId {
			return fmt.Errorf("%w: user %d already has a farmer profile", ErrInvalidInput, farmer.UserId)
		}
	}
	farmer.ID = s.nextID()
	now := time.Now()
	farmer.CreatedAt, farmer.UpdatedAt = now, now
	s.farmers[farmer.ID] = *farmer
	return nil
}

func (s *MemoryStore) GetFarmer(_ context.Context, id int) (*Farmer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.farmers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &f, nil
}

func (s *MemoryStore) GetFarmerByUser(_ context.Context, userId int) (*Farmer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range sortedKeys(s.farmers) {
		if f := s.farmers[id]; f.UserId == userId {
			return &f, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListFarmerIds(_ context.Context) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.farmers), nil
}

func (s *MemoryStore) UpdateFarmerCredits(_ context.Context, farmerId int, totals FarmerCreditTotals) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.farmers[farmerId]
	if !ok {
		return ErrNotFound
	}
	f.TotalCarbonCredits = totals.Total
	f.VerifiedCarbonCredits = totals.Verified
	f.PendingCarbonCredits = totals.Pending
	f.UpdatedAt = time.Now()
	s.farmers[farmerId] = f
	return nil
}

func (s *MemoryStore) DeleteFarmer(_ context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.farmers[id]; !ok {
		return ErrNotFound
	}
	delete(s.farmers, id)
	return nil
}

func (s *MemoryStore) CreateCrop(_ context.Context, crop *Crop) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	crop.ID = s.nextID()
	crop.CreatedAt = time.Now()
	s.crops[crop.ID] = *crop
	return nil
}

func (s *MemoryStore) GetCrop(_ context.Context, id int) (*Crop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.crops[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (s *MemoryStore) ListCropsByFarmer(_ context.Context, farmerId int) ([]Crop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Crop
	for _, id := range sortedKeys(s.crops) {
		if c := s.crops[id]; c.FarmerId == farmerId {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateCropStatus(_ context.Context, id int, status CropStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.crops[id]
	if !ok {
		return ErrNotFound
	}
	c.Status = status
	s.crops[id] = c
	return nil
}

func (s *MemoryStore) CreateVerificationRecord(_ context.Context, record *VerificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record.ID = s.nextID()
	now := time.Now()
	record.CreatedAt, record.UpdatedAt = now, now
	s.records[record.ID] = cloneRecord(*record)
	return nil
}

func (s *MemoryStore) GetVerificationRecord(_ context.Context, id int) (*VerificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	r = cloneRecord(r)
	return &r, nil
}

func (s *MemoryStore) PatchVerificationAnalysis(_ context.Context, id int, patch AnalysisPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	if patch.ExpectStatus != "" && r.Status != patch.ExpectStatus {
		return ErrAlreadyResolved
	}
	r.Analysis = patch.Analysis
	r.Status = patch.Status
	r.UpdatedAt = time.Now()
	s.records[id] = cloneRecord(r)
	return nil
}

// ListVerificationRecords returns newest first, matching GormStore.
func (s *MemoryStore) ListVerificationRecords(_ context.Context, q VerificationQuery) ([]VerificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []VerificationRecord
	for _, r := range s.records {
		if q.Matches(&r) {
			out = append(out, cloneRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) ListVerificationRecordsByStatus(_ context.Context, status VerificationStatus, olderThan time.Time, limit int) ([]VerificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []VerificationRecord
	for _, id := range sortedKeys(s.records) {
		r := s.records[id]
		if r.Status != status {
			continue
		}
		if !olderThan.IsZero() && !r.CreatedAt.Before(olderThan) {
			continue
		}
		out = append(out, cloneRecord(r))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateCarbonCredits(_ context.Context, credits []*CarbonCredit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, c := range credits {
		c.ID = s.nextID()
		c.CreatedAt, c.UpdatedAt = now, now
		s.credits[c.ID] = cloneCredit(*c)
	}
	return nil
}

func (s *MemoryStore) GetCarbonCredit(_ context.Context, id int) (*CarbonCredit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.credits[id]
	if !ok {
		return nil, ErrNotFound
	}
	c = cloneCredit(c)
	return &c, nil
}

func (s *MemoryStore) UpdateCarbonCreditWith(_ context.Context, id int, fn func(*CarbonCredit) error) (*CarbonCredit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credits[id]
	if !ok {
		return nil, ErrNotFound
	}
	c = cloneCredit(c)
	if err := fn(&c); err != nil {
		return nil, err
	}
	c.UpdatedAt = time.Now()
	s.credits[id] = cloneCredit(c)
	return &c, nil
}

func (s *MemoryStore) ListCarbonCreditsByFarmers(_ context.Context, farmerIds []int) ([]CarbonCredit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[int]bool, len(farmerIds))
	for _, id := range farmerIds {
		want[id] = true
	}
	var out []CarbonCredit
	for _, id := range sortedKeys(s.credits) {
		if c := s.credits[id]; want[c.FarmerId] {
			out = append(out, cloneCredit(c))
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateComplianceReport(_ context.Context, report *ComplianceReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	report.ID = s.nextID()
	s.reports[report.ID] = *report
	return nil
}

func (s *MemoryStore) GetComplianceReport(_ context.Context, id int) (*ComplianceReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (s *MemoryStore) ListComplianceReports(_ context.Context, farmerId int, practiceType PracticeType) ([]ComplianceReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ComplianceReport
	for _, r := range s.reports {
		if farmerId > 0 && r.FarmerId != farmerId {
			continue
		}
		if practiceType != "" && r.PracticeType != practiceType {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].GeneratedAt.Equal(out[j].GeneratedAt) {
			return out[i].GeneratedAt.After(out[j].GeneratedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) CreateMRVNode(_ context.Context, node *MRVNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	node.ID = s.nextID()
	s.nodes[node.ID] = cloneNode(*node)
	return nil
}

func (s *MemoryStore) GetMRVNode(_ context.Context, id int) (*MRVNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, ErrNotFound
	}
	n = cloneNode(n)
	return &n, nil
}

func (s *MemoryStore) UpdateMRVNodeWith(_ context.Context, id int, fn func(*MRVNode) error) (*MRVNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, ErrNotFound
	}
	n = cloneNode(n)
	if err := fn(&n); err != nil {
		return nil, err
	}
	s.nodes[id] = cloneNode(n)
	return &n, nil
}

func (s *MemoryStore) ListMRVNodesByMember(_ context.Context, farmerId int) ([]MRVNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []MRVNode
	for _, id := range sortedKeys(s.nodes) {
		n := s.nodes[id]
		if n.HasMember(farmerId) {
			out = append(out, cloneNode(n))
		}
	}
	return out, nil
}

func (s *MemoryStore) ListActiveMRVNodes(_ context.Context) ([]MRVNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []MRVNode
	for _, id := range sortedKeys(s.nodes) {
		if n := s.nodes[id]; n.IsActive {
			out = append(out, cloneNode(n))
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateSensorReading(_ context.Context, reading *SensorReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	reading.ID = s.nextID()
	s.readings[reading.ID] = *reading
	return nil
}

func (s *MemoryStore) ListSensorReadings(_ context.Context, q SensorQuery) ([]SensorReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []SensorReading
	for _, r := range s.readings {
		if r.FarmerId != q.FarmerId {
			continue
		}
		if q.SensorType != "" && r.SensorType != q.SensorType {
			continue
		}
		if !q.Since.IsZero() && r.Timestamp.Before(q.Since) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
