package service

// UploadResult 上传结果
type UploadResult struct {
	Message  string `json:"message"`
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

// GenerateRequest 自动生成请求
type GenerateRequest struct {
	Filename string `json:"filename"`
	Annotate bool   `json:"annotate,omitempty"` // 在合成图上标注 Mask 序号
}

// MaskInfo 单个自动生成的 Mask
type MaskInfo struct {
	ID    int     `json:"id"`
	Score float64 `json:"score"`
	Mask  string  `json:"mask"` // base64 PNG, RGBA
}

// GenerateResult 自动生成结果
type GenerateResult struct {
	Masks         []MaskInfo `json:"masks"`
	CompositeMask string     `json:"composite_mask"`
	ImageSize     [2]int     `json:"image_size"` // [height, width]
}

// PromptPoint 归一化坐标的提示点
type PromptPoint struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	IsPositive *bool   `json:"is_positive,omitempty"` // 缺省为 true
}

// Positive 是否为前景点
func (p PromptPoint) Positive() bool {
	return p.IsPositive == nil || *p.IsPositive
}

// PointsRequest 点提示请求
type PointsRequest struct {
	Filename string        `json:"filename"`
	Points   []PromptPoint `json:"points"`
}

// PointsResult 点提示结果
type PointsResult struct {
	Mask     string `json:"mask"` // base64 PNG, 灰度 0/255
	Combined bool   `json:"combined"`
	Warning  string `json:"warning,omitempty"`
}

// ColorOperation 单次上色操作
type ColorOperation struct {
	Mask  string `json:"mask"`
	Color string `json:"color"`
}

// ColorRequest 上色请求
type ColorRequest struct {
	Filename      string           `json:"filename"`
	Operations    []ColorOperation `json:"operations"`
	PreviousImage string           `json:"previous_image,omitempty"`
}

// ColorResult 上色结果
type ColorResult struct {
	ColoredImage string `json:"colored_image"`
}
