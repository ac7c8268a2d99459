package service

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/netsurvey/netsurvey/pkg/transfer"
)

// DefaultFailedHostsFile 失败清单默认文件名
const DefaultFailedHostsFile = "failed_hosts.yaml"

// WriteFailedReport 以 YAML 写出失败主机清单，原子替换旧文件
func WriteFailedReport(path string, report FailedReport) error {
	data, err := yaml.Marshal(&report)
	if err != nil {
		return fmt.Errorf("marshal failed hosts: %w", err)
	}
	if _, _, err := transfer.Publish(path, 0644, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write failed hosts: %w", err)
	}
	return nil
}

// ReadFailedReport 读取失败主机清单，便于只重跑失败的设备
func ReadFailedReport(path string) (*FailedReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var report FailedReport
	if err := yaml.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &report, nil
}

// Refs 清单中的主机，作为下一次请求的设备列表
func (r *FailedReport) Refs() []DeviceRef {
	refs := make([]DeviceRef, 0, len(r.Hosts))
	for _, h := range r.Hosts {
		refs = append(refs, DeviceRef{Host: h.Host, Dialect: h.Dialect})
	}
	return refs
}
