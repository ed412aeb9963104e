package config

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultPersonaPrompt = `Bạn là XiaoAI, một trợ lý ảo thông minh và thân thiện.
Bạn được tạo ra để hỗ trợ người dùng trong mọi công việc hàng ngày.

Quy tắc:
- Luôn trả lời bằng tiếng Việt trừ khi người dùng yêu cầu ngôn ngữ khác
- Trả lời ngắn gọn, súc tích nhưng đầy đủ thông tin
- Thân thiện và lịch sự trong mọi tình huống
- Có thể phân tích hình ảnh và video khi được yêu cầu
- Nếu không biết câu trả lời, hãy thừa nhận thay vì bịa đặt`

// Persona is the assistant identity: the system instruction sent to the
// model and the uid used to group archived transcripts.
type Persona struct {
	UID          string `yaml:"uid"`
	Name         string `yaml:"name"`
	SystemPrompt string `yaml:"system_prompt"`
}

type personaFilePayload struct {
	Persona Persona `yaml:"persona"`
}

// DefaultPersona returns the built-in XiaoAI persona.
func DefaultPersona() Persona {
	return Persona{
		UID:          "xiaoai",
		Name:         "XiaoAI",
		SystemPrompt: defaultPersonaPrompt,
	}
}

// ReadPersona reads a persona YAML file. Missing fields fall back to the
// built-in persona.
func ReadPersona(path string) (Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Persona{}, err
	}
	var payload personaFilePayload
	if err := yaml.Unmarshal(data, &payload); err != nil {
		return Persona{}, err
	}
	persona := payload.Persona
	fallback := DefaultPersona()
	if strings.TrimSpace(persona.SystemPrompt) == "" {
		persona.SystemPrompt = fallback.SystemPrompt
	}
	if persona.Name == "" {
		persona.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if persona.UID == "" {
		persona.UID = persona.Name
	}
	persona.UID = sanitizeUID(persona.UID)
	persona.SystemPrompt = strings.TrimSpace(persona.SystemPrompt)
	return persona, nil
}

func resolvePersona(path string) (Persona, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultPersona(), nil
	}
	return ReadPersona(path)
}

func sanitizeUID(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "default"
	}
	var b strings.Builder
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '_' || r == '-' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "._-")
	if out == "" {
		return "default"
	}
	return out
}
