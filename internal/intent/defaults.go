package intent

import (
	_ "embed"
	"errors"
	"io/fs"
	"os"
)

// DefaultTableYAML 内嵌的默认意图表。
//
//go:embed defaults/intents.yaml
var DefaultTableYAML []byte

// LoadDefault 解析内嵌意图表。
func LoadDefault() ([]Intent, error) {
	return Parse(DefaultTableYAML)
}

// LoadFileOrDefault 优先读取 path 的意图表，不存在则回退到内嵌默认表。
func LoadFileOrDefault(path string) ([]Intent, error) {
	if path == "" {
		return LoadDefault()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return LoadDefault()
		}
		return nil, err
	}
	return Parse(data)
}
