package types

// Subject 是限流与预算的作用域，单个请求内不可变
type Subject struct {
	SubjectID      string `json:"subject_id"`
	OrganizationID string `json:"organization_id"`
}

// HasUser 是否携带个人身份
func (s Subject) HasUser() bool {
	return s.SubjectID != ""
}

// Key 返回限流计数使用的主体标识；没有个人身份时退化到组织维度
func (s Subject) Key() string {
	if s.SubjectID != "" {
		return s.SubjectID
	}
	return "org:" + s.OrganizationID
}

// Metadata 透传给下游的无模式元数据。
// 约定的键：source（入口来源）、conversation_id、locale；其余键原样透传，不做校验。
type Metadata map[string]any

// Clone 浅拷贝
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// String 读取字符串字段
func (m Metadata) String(key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
