package importexport

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/QingMing-Bot/nlssh/internal/domain"
)

// ImportedMachine 导入条目：可携带明文 secret，由调用方经 vault 封装后入库。
// 明文列绝不回写到导出结果。
type ImportedMachine struct {
	Machine domain.Machine
	Secret  string
}

// ParseMachinesJSON 解析 JSON 数组为导入条目。
func ParseMachinesJSON(data []byte) ([]ImportedMachine, error) {
	var raw []struct {
		domain.Machine
		Secret string `json:"secret,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	var out []ImportedMachine
	for _, r := range raw {
		if strings.TrimSpace(r.Host) == "" {
			continue
		}
		out = append(out, ImportedMachine{Machine: r.Machine, Secret: r.Secret})
	}
	return out, nil
}

// ParseMachinesCSV 解析 CSV (含 header: name,host,port,username,auth_method,secret,remark)。
func ParseMachinesCSV(data []byte) ([]ImportedMachine, error) {
	r := csv.NewReader(strings.NewReader(string(data)))
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []ImportedMachine{}, nil
	}
	start := 0
	if len(rows[0]) > 0 && strings.Contains(strings.ToLower(strings.Join(rows[0], ",")), "host") {
		start = 1
	}
	var out []ImportedMachine
	for i := start; i < len(rows); i++ {
		cols := rows[i]
		if len(cols) < 2 || strings.TrimSpace(cols[1]) == "" {
			continue
		}
		m := domain.Machine{Name: strings.TrimSpace(cols[0]), Host: strings.TrimSpace(cols[1])}
		if len(cols) > 2 {
			if p, e := strconv.Atoi(strings.TrimSpace(cols[2])); e == nil {
				m.Port = p
			}
		}
		if len(cols) > 3 {
			m.Username = strings.TrimSpace(cols[3])
		}
		if len(cols) > 4 {
			m.AuthMethod = domain.AuthMethod(strings.TrimSpace(cols[4]))
		}
		entry := ImportedMachine{Machine: m}
		if len(cols) > 5 {
			entry.Secret = cols[5]
		}
		if len(cols) > 6 {
			entry.Machine.Remark = strings.TrimSpace(cols[6])
		}
		out = append(out, entry)
	}
	return out, nil
}

// RenderMachinesCSV 输出 CSV 字符串 (含 header)。凭据永不导出。
func RenderMachinesCSV(ms []domain.Machine) string {
	var b strings.Builder
	b.WriteString("name,host,port,username,auth_method,remark\n")
	for _, m := range ms {
		b.WriteString(strings.Join([]string{
			escapeCSV(m.Name), escapeCSV(m.Host), strconv.Itoa(m.EffectivePort()),
			escapeCSV(m.Username), string(m.AuthMethod), escapeCSV(m.Remark),
		}, ","))
		b.WriteString("\n")
	}
	return b.String()
}

func escapeCSV(s string) string {
	if strings.ContainsAny(s, ",\n\"") {
		return "\"" + strings.ReplaceAll(s, "\"", "\"\"") + "\""
	}
	return s
}

// SerializeMachinesJSON 输出 JSON 字符串。Machine 的句柄字段不参与序列化。
func SerializeMachinesJSON(ms []domain.Machine) (string, error) {
	b, err := json.Marshal(ms)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ValidateMachines 导入前的基本校验。
func ValidateMachines(entries []ImportedMachine) error {
	for _, e := range entries {
		if strings.TrimSpace(e.Machine.Host) == "" {
			return errors.New("empty host")
		}
		if e.Machine.AuthMethod != "" && !e.Machine.AuthMethod.Valid() {
			return errors.New("invalid auth_method: " + string(e.Machine.AuthMethod))
		}
	}
	return nil
}
