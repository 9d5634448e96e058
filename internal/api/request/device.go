package request

type CreateDevice struct {
	Name       string   `json:"name" validate:"required,min=1,max=255"`
	Type       string   `json:"type" validate:"required"`
	AllowedIPs []string `json:"allowed_ips"`
}

type UpdateDevice struct {
	Name string `json:"name" validate:"required,min=1,max=255"`
	Type string `json:"type" validate:"required"`
}

type SetAllowList struct {
	AllowedIPs []string `json:"allowed_ips" validate:"required"`
}
