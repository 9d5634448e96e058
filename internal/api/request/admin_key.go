package request

type CreateAdminKey struct {
	Name string `json:"name" validate:"required,min=1,max=255"`
}
