package domain

// Category is the scenario type vocabulary.
type Category string

const (
	CategoryLaneChange         Category = "lane_change"
	CategoryIntersection       Category = "intersection"
	CategoryTrafficJam         Category = "traffic_jam"
	CategoryHighwayMerge       Category = "highway_merge"
	CategoryPedestrianCrossing Category = "pedestrian_crossing"
	CategoryCyclistInteraction Category = "cyclist_interaction"
	CategoryConstructionZone   Category = "construction_zone"
	CategoryRoundabout         Category = "roundabout"
	CategoryParking            Category = "parking"

	CategoryEmergencyVehicle  Category = "emergency_vehicle"
	CategoryNearMiss          Category = "near_miss"
	CategoryWildlifeCrossing  Category = "wildlife_crossing"
	CategoryPedestrianJaywalk Category = "pedestrian_jaywalk"
	CategoryRoadDebris        Category = "road_debris"
)

var edgeCases = map[Category]struct{}{
	CategoryEmergencyVehicle:  {},
	CategoryNearMiss:          {},
	CategoryWildlifeCrossing:  {},
	CategoryPedestrianJaywalk: {},
	CategoryRoadDebris:        {},
}

// IsEdgeCase reports whether the category is a rare, bounty-bearing event.
func (c Category) IsEdgeCase() bool {
	_, ok := edgeCases[c]
	return ok
}

// Frequency is one row of the extraction frequency table.
type Frequency struct {
	Category    Category
	Probability float64
	AvgSpan     float64
	Variance    float64
	Tags        []Tag
}

// DefaultFrequencies approximates what a perception model reports on
// typical dashcam footage. Probabilities are per cursor step and sum below
// one so some steps detect nothing.
var DefaultFrequencies = []Frequency{
	{Category: CategoryLaneChange, Probability: 0.18, AvgSpan: 6, Variance: 2, Tags: []Tag{TagHighway}},
	{Category: CategoryIntersection, Probability: 0.15, AvgSpan: 12, Variance: 4, Tags: []Tag{TagUrban}},
	{Category: CategoryTrafficJam, Probability: 0.08, AvgSpan: 40, Variance: 15, Tags: []Tag{TagUrban}},
	{Category: CategoryHighwayMerge, Probability: 0.07, AvgSpan: 10, Variance: 3, Tags: []Tag{TagHighway}},
	{Category: CategoryPedestrianCrossing, Probability: 0.07, AvgSpan: 8, Variance: 3, Tags: []Tag{TagUrban, TagVulnerableRoadUser}},
	{Category: CategoryCyclistInteraction, Probability: 0.05, AvgSpan: 7, Variance: 2, Tags: []Tag{TagUrban, TagVulnerableRoadUser}},
	{Category: CategoryConstructionZone, Probability: 0.04, AvgSpan: 25, Variance: 10, Tags: []Tag{TagRoadwork}},
	{Category: CategoryRoundabout, Probability: 0.04, AvgSpan: 9, Variance: 3, Tags: []Tag{TagUrban}},
	{Category: CategoryParking, Probability: 0.03, AvgSpan: 20, Variance: 8, Tags: []Tag{TagLowSpeed}},
	{Category: CategoryEmergencyVehicle, Probability: 0.012, AvgSpan: 8, Variance: 3},
	{Category: CategoryNearMiss, Probability: 0.01, AvgSpan: 3, Variance: 1},
	{Category: CategoryWildlifeCrossing, Probability: 0.006, AvgSpan: 5, Variance: 2, Tags: []Tag{TagRural}},
	{Category: CategoryPedestrianJaywalk, Probability: 0.008, AvgSpan: 4, Variance: 1, Tags: []Tag{TagUrban, TagVulnerableRoadUser}},
	{Category: CategoryRoadDebris, Probability: 0.008, AvgSpan: 3, Variance: 1, Tags: []Tag{TagHighway}},
}
