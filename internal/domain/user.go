package domain

// Role описывает роль пользователя.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User: покупатель или администратор. Учётными записями управляет внешний сервис.
type User struct {
	ID               int64
	Name             string
	Phone            string
	Address          string
	Role             Role
	ConfirmedByAdmin bool
}

// Snapshot копирует актуальные контакты пользователя в заказ.
func (u User) Snapshot() BuyerSnapshot {
	return BuyerSnapshot{
		Name:            u.Name,
		Phone:           u.Phone,
		ShipmentAddress: u.Address,
	}
}

// IsAdmin сообщает, есть ли у пользователя права администратора.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
