package memory

// WatermarkLen reports how many conversations hold a created_at watermark.
func WatermarkLen(s *Store) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watermark)
}
