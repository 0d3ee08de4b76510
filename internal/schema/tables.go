package schema

func col(name string, t ColumnType) Column { return Column{Name: name, Type: t} }

// Equipment is the primary entity table.
var Equipment = NewTable("equipment",
	col("id", Integer),

	// identity / classification
	col("name", Text),
	col("equipment_type", Text),
	col("rarity", Text),
	col("tier", Text),
	col("faction", Text),
	col("weapon_type", Text),
	col("sub_type", Text),

	// named stats
	col("stat_hp", Real),
	col("stat_firepower", Real),
	col("stat_torpedo", Real),
	col("stat_aviation", Real),
	col("stat_reload", Real),
	col("stat_antiair", Real),
	col("stat_hit", Real),
	col("stat_evasion", Real),
	col("stat_speed", Real),
	col("stat_luck", Real),
	col("stat_antisub", Real),
	col("stat_oxy_max", Real),
	col("stat_raid_distance", Real),

	// timing
	col("storehouse_cd_initial", Real),
	col("storehouse_cd_max", Real),
	col("attack_foreswing", Real),
	col("attack_duration", Real),
	col("attack_backswing", Real),
	col("has_preload", Integer),
	col("triggers_global_cooldown", Integer),
	col("volley_barrel_delay", Real),

	// damage / ammo
	col("base_damage_initial", Real),
	col("base_damage_max", Real),
	col("damage_coefficient_initial", Real),
	col("damage_coefficient_max", Real),
	col("damage_stat_type", Text),
	col("stat_efficiency", Real),
	col("volley_count", Integer),
	col("payload", JSON),
	col("compatible_ammo", JSON),
	col("override_ammo_properties", JSON),

	// targeting
	col("base_velocity", Real),
	col("base_speed", Real),
	col("targeting_range_max", Real),
	col("targeting_range_min", Real),
	col("targeting_angle", Real),

	// audit / free-form
	col("stat_bonus", JSON),
	col("inherent_modifiers", JSON),
	col("unique_group_id", Text),
	col("forbidden_ship_types", JSON),
	col("enhancement_data", JSON),

	col("weapon_id", Integer),

	// mirrored from the weapon property document
	col("weapon_property_id", Integer),
	col("wp_type", Integer),
	col("wp_bullet_ids", JSON),
	col("wp_barrage_ids", JSON),
	col("wp_range", Real),
	col("wp_angle", Real),
	col("wp_min_range", Real),
	col("wp_auto_aftercast", Real),
	col("wp_recover_time", Real),
	col("wp_precast_param", JSON),
	col("wp_damage", Real),
	col("wp_oxy_type", JSON),
	col("wp_expose", Integer),
	col("wp_fire_fx", Text),
	col("wp_fire_sfx", Text),
	col("wp_fire_fx_loop_type", Integer),
	col("weapon_property_json", JSON),
)

// Ships and Skills are created with the store but no stage writes them.
var Ships = NewTable("ships",
	col("id", Integer),
	col("name", Text),
	col("ship_type", Text),
	col("rarity", Text),
	col("faction", Text),
	col("base_reload_stat", Integer),
	col("base_fp", Integer),
	col("base_trp", Integer),
	col("base_avi", Integer),
	col("base_aa", Integer),
	col("base_hp", Integer),
	col("slots", Text),
	col("aircraft_slots", Text),
)

var Skills = NewTable("skills",
	col("id", Integer),
	col("name", Text),
	col("description", Text),
	col("trigger_info", Text),
	col("effects", Text),
)

// All lists every table in creation order.
func All() []*Table { return []*Table{Equipment, Ships, Skills} }
