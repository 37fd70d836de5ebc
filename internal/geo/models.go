package geo

// Response shapes of the Google Maps web services.

type geocodeResponse struct {
	Status       string          `json:"status"`
	ErrorMessage string          `json:"error_message"`
	Results      []geocodeResult `json:"results"`
}

type geocodeResult struct {
	FormattedAddress  string             `json:"formatted_address"`
	AddressComponents []addressComponent `json:"address_components"`
}

type addressComponent struct {
	LongName  string   `json:"long_name"`
	ShortName string   `json:"short_name"`
	Types     []string `json:"types"`
}

type distanceMatrixResponse struct {
	Status       string              `json:"status"`
	ErrorMessage string              `json:"error_message"`
	Rows         []distanceMatrixRow `json:"rows"`
}

type distanceMatrixRow struct {
	Elements []distanceMatrixElement `json:"elements"`
}

type distanceMatrixElement struct {
	Status   string     `json:"status"`
	Duration *textValue `json:"duration"`
	Distance *textValue `json:"distance"`
}

type textValue struct {
	Text  string `json:"text"`
	Value int64  `json:"value"`
}
