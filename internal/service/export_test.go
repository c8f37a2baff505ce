package service

// SetBcryptCost lowers the hashing cost for tests.
func SetBcryptCost(s *AuthService, cost int) {
	s.cost = cost
}
