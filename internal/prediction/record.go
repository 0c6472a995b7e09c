package prediction

import (
	"strconv"

	"github.com/animus-labs/propensity/internal/dataset"
)

// Record is one customer to score. Every field is required; binary flags
// take 0 or 1.
type Record struct {
	Gender             *int     `json:"Gender" validate:"required,oneof=0 1"`
	Age                *int     `json:"Age" validate:"required,gte=0,lte=120"`
	DrivingLicense     *int     `json:"Driving_License" validate:"required,oneof=0 1"`
	RegionCode         *float64 `json:"Region_Code" validate:"required,gte=0"`
	PreviouslyInsured  *int     `json:"Previously_Insured" validate:"required,oneof=0 1"`
	AnnualPremium      *float64 `json:"Annual_Premium" validate:"required,gte=0"`
	PolicySalesChannel *float64 `json:"Policy_Sales_Channel" validate:"required,gte=0"`
	Vintage            *int     `json:"Vintage" validate:"required,gte=0"`
	VehicleAgeLt1Year  *int     `json:"Vehicle_Age_lt_1_Year" validate:"required,oneof=0 1"`
	VehicleAgeGt2Years *int     `json:"Vehicle_Age_gt_2_Years" validate:"required,oneof=0 1"`
	VehicleDamageYes   *int     `json:"Vehicle_Damage_Yes" validate:"required,oneof=0 1"`
}

// Columns is the feature layout a Record expands to.
var Columns = []string{
	"Gender",
	"Age",
	"Driving_License",
	"Region_Code",
	"Previously_Insured",
	"Annual_Premium",
	"Policy_Sales_Channel",
	"Vintage",
	"Vehicle_Age_lt_1_Year",
	"Vehicle_Age_gt_2_Years",
	"Vehicle_Damage_Yes",
}

// Frame converts r into a one-row frame. r must have passed validation.
func (r Record) Frame() (*dataset.Frame, error) {
	return dataset.FromRecord(Columns, map[string]string{
		"Gender":                 itoa(r.Gender),
		"Age":                    itoa(r.Age),
		"Driving_License":        itoa(r.DrivingLicense),
		"Region_Code":            ftoa(r.RegionCode),
		"Previously_Insured":     itoa(r.PreviouslyInsured),
		"Annual_Premium":         ftoa(r.AnnualPremium),
		"Policy_Sales_Channel":   ftoa(r.PolicySalesChannel),
		"Vintage":                itoa(r.Vintage),
		"Vehicle_Age_lt_1_Year":  itoa(r.VehicleAgeLt1Year),
		"Vehicle_Age_gt_2_Years": itoa(r.VehicleAgeGt2Years),
		"Vehicle_Damage_Yes":     itoa(r.VehicleDamageYes),
	})
}

func itoa(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func ftoa(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
