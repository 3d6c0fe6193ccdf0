package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"grid-trader-go/order"
)

// FileStore 把账本快照落盘为JSON文件。写入走临时文件+rename，
// 避免进程中断留下半截快照。
type FileStore struct {
	Path string
}

// NewFileStore 创建快照存储，必要时建立父目录。
func NewFileStore(path string) (*FileStore, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create snapshot dir: %w", err)
		}
	}
	return &FileStore{Path: path}, nil
}

// Save 覆盖写入完整快照。
func (s *FileStore) Save(orders []order.LiveOrder) error {
	if orders == nil {
		orders = []order.LiveOrder{}
	}
	data, err := json.Marshal(orders)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// Load 读回快照。文件不存在时返回 present=false，调用方据此判断
// 是否需要初始建仓。
func (s *FileStore) Load() ([]order.LiveOrder, bool, error) {
	data, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read snapshot: %w", err)
	}
	var orders []order.LiveOrder
	if err := json.Unmarshal(data, &orders); err != nil {
		return nil, false, fmt.Errorf("parse snapshot: %w", err)
	}
	return orders, true, nil
}
