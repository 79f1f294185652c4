package physical

// A Plant computes the next sensor values of the physical process.
type Plant interface {
	// Step receives every plant value at time t and returns the sensor
	// values after the step. Tags left out keep their value.
	Step(t int, values map[string]string) (map[string]string, error)
}

// PlantFunc adapts a function to the Plant interface.
type PlantFunc func(t int, values map[string]string) (map[string]string, error)

// Step calls f.
func (f PlantFunc) Step(t int, values map[string]string) (map[string]string, error) {
	return f(t, values)
}

// HoldPlant leaves every value unchanged.
type HoldPlant struct{}

// Step returns no change.
func (HoldPlant) Step(int, map[string]string) (map[string]string, error) {
	return nil, nil
}
