package dataset

import (
	"math"
	"math/rand/v2"
	"strconv"
)

// VehicleColumns is the raw column layout of the vehicle insurance data,
// including the id and the Response target.
var VehicleColumns = []string{
	"id",
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
	"Response",
}

// SyntheticVehicles generates n rows shaped like the vehicle insurance data
// with a learnable Response signal. signal scales how strongly the features
// drive the label; 0 yields labels independent of the features.
func SyntheticVehicles(n int, seed uint64, signal float64) *Frame {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	rows := make([][]string, n)
	for i := range rows {
		gender := rng.IntN(2)
		age := 20 + rng.IntN(60)
		license := 1
		if rng.Float64() < 0.02 {
			license = 0
		}
		region := float64(rng.IntN(50))
		insured := rng.IntN(2)
		premium := 2500 + rng.Float64()*60000
		channel := float64(1 + rng.IntN(160))
		vintage := 10 + rng.IntN(290)
		vehicleAge := rng.IntN(3)
		damage := rng.IntN(2)

		lt1, gt2 := 0, 0
		switch vehicleAge {
		case 0:
			lt1 = 1
		case 2:
			gt2 = 1
		}

		z := -0.5 + signal*(2.2*float64(damage)-2.8*float64(insured)+0.6*float64(gt2)-0.5*float64(lt1)+0.02*float64(age-40))
		response := 0
		if rng.Float64() < 1/(1+math.Exp(-z)) {
			response = 1
		}

		rows[i] = []string{
			strconv.Itoa(i + 1),
			strconv.Itoa(gender),
			strconv.Itoa(age),
			strconv.Itoa(license),
			strconv.FormatFloat(region, 'f', 1, 64),
			strconv.Itoa(insured),
			strconv.FormatFloat(premium, 'f', 2, 64),
			strconv.FormatFloat(channel, 'f', 1, 64),
			strconv.Itoa(vintage),
			strconv.Itoa(lt1),
			strconv.Itoa(gt2),
			strconv.Itoa(damage),
			strconv.Itoa(response),
		}
	}
	f, err := NewFrame(VehicleColumns, rows)
	if err != nil {
		panic(err)
	}
	return f
}
