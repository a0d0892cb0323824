package build

const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

func IsDevelopment() bool {
	return Mode == ModeDevelopment
}

func IsProduction() bool {
	return Mode == ModeProduction
}
